package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventJoinRoom, JoinRoom{RoomID: "ABC123", Nickname: "Bob"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if parsed.Type != EventJoinRoom {
		t.Fatalf("type = %q, want %q", parsed.Type, EventJoinRoom)
	}

	var join JoinRoom
	if err := parsed.Decode(&join); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if join.RoomID != "ABC123" || join.Nickname != "Bob" {
		t.Fatalf("unexpected payload: %+v", join)
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing type", `{"payload":{}}`},
		{"unknown field", `{"type":"join-room","payload":{},"extra":1}`},
		{"trailing data", `{"type":"join-room"}{"type":"join-room"}`},
		{"not json", `hello`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEnvelope([]byte(tc.data)); err == nil {
				t.Fatalf("expected parse error for %s", tc.data)
			}
		})
	}
}

func TestDecode_RejectsUnknownPayloadFields(t *testing.T) {
	env := Envelope{
		Type:    EventJoinRoom,
		Payload: json.RawMessage(`{"roomId":"R","nickname":"n","bogus":true}`),
	}
	var join JoinRoom
	if err := env.Decode(&join); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestDecode_MissingPayload(t *testing.T) {
	env := Envelope{Type: EventLeaveRoom}
	var leave LeaveRoom
	err := env.Decode(&leave)
	if err == nil {
		t.Fatalf("expected missing-payload error")
	}
	if !strings.Contains(err.Error(), EventLeaveRoom) {
		t.Fatalf("error should name the event type: %v", err)
	}
}

func TestSignalValidate(t *testing.T) {
	valid := Signal{To: "peer-b", RoomID: "R", Kind: SignalOffer, Payload: json.RawMessage(`{}`)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}

	cases := []struct {
		name string
		sig  Signal
	}{
		{"missing to", Signal{RoomID: "R", Kind: SignalOffer, Payload: json.RawMessage(`{}`)}},
		{"missing room", Signal{To: "b", Kind: SignalAnswer, Payload: json.RawMessage(`{}`)}},
		{"bad kind", Signal{To: "b", RoomID: "R", Kind: "renegotiate", Payload: json.RawMessage(`{}`)}},
		{"missing payload", Signal{To: "b", RoomID: "R", Kind: SignalCandidate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.sig.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
