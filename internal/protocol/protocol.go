// Package protocol defines the JSON wire envelopes exchanged between clients
// and the relay over the signaling WebSocket.
//
// Every frame is an Envelope: a type tag plus a type-specific payload. Payload
// decoding is strict (unknown fields and trailing data are rejected) so that
// protocol drift between client and relay fails loudly instead of silently.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Client -> server event types.
const (
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSignal      = "signal"
	EventChatMessage = "chat-message"
	EventMediaState  = "media-state"
)

// Server -> client event types.
const (
	EventWelcome          = "welcome"
	EventCreateRoomResult = "create-room-result"
	EventJoinRoomResult   = "join-room-result"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventRoomUsers        = "room-users"
	EventUserMediaState   = "user-media-state"
	EventError            = "error"
)

// Signal kinds carried inside a signal envelope. The negotiation payload
// itself (SDP or ICE candidate JSON) is opaque to the relay.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Envelope is the outer frame for every message on the signaling socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserInfo describes a room member as seen by other members.
type UserInfo struct {
	ID             string `json:"id"`
	Nickname       string `json:"nickname"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// RoomInfo is returned to a client on a successful join.
type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
}

type Welcome struct {
	UserID string `json:"userId"`
}

type CreateRoom struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
}

type CreateRoomResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

type JoinRoomResult struct {
	Success  bool      `json:"success"`
	RoomInfo *RoomInfo `json:"roomInfo,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// Signal is the client->relay form: addressed to a specific recipient.
type Signal struct {
	To      string          `json:"to"`
	RoomID  string          `json:"roomId"`
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SignalEvent is the relay->recipient form: stamped with the sender.
type SignalEvent struct {
	From    string          `json:"from"`
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ChatSend struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// ChatMessage is broadcast to the room. Identity, nickname and timestamp are
// stamped by the relay; client-supplied values are never trusted.
type ChatMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Nickname  string `json:"nickname"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

type MediaState struct {
	RoomID         string `json:"roomId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

type UserMediaState struct {
	UserID         string `json:"userId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

type UserJoined struct {
	UserID   string   `json:"userId"`
	UserInfo UserInfo `json:"userInfo"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type RoomUsers struct {
	Users []string `json:"users"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEnvelope decodes an incoming frame. Unknown envelope fields and
// trailing data are rejected; payload validity is checked by Decode.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing envelope type")
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v with strict field checking.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := decodeStrict(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// NewEnvelope marshals v as the payload of a typed envelope.
func NewEnvelope(eventType string, v any) (Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: payload}, nil
}

// Validate checks the invariants the relay relies on before routing.
func (s Signal) Validate() error {
	if s.To == "" {
		return fmt.Errorf("signal missing recipient")
	}
	if s.RoomID == "" {
		return fmt.Errorf("signal missing roomId")
	}
	switch s.Kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return fmt.Errorf("unsupported signal type %q", s.Kind)
	}
	if len(s.Payload) == 0 {
		return fmt.Errorf("signal missing payload")
	}
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
