package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/huddlelabs/huddle/internal/protocol"
)

// managerHarness wires a Manager to recorded outputs and a queue of fake
// transports handed out by the factory.
type managerHarness struct {
	mgr        *Manager
	chat       *ChatFanout
	transports []*fakeTransport

	mu   sync.Mutex
	sent []protocol.Signal
}

func newManagerHarness(t *testing.T, localID string) *managerHarness {
	t.Helper()
	h := &managerHarness{chat: NewChatFanout(discardLogger())}
	factory := func(ctx context.Context) (Transport, error) {
		tr := newFakeTransport()
		h.transports = append(h.transports, tr)
		return tr, nil
	}
	send := func(sig protocol.Signal) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sent = append(h.sent, sig)
		return nil
	}
	h.mgr = NewManager(localID, "ROOM42", factory, send, h.chat, testDebounce, discardLogger())
	return h
}

func (h *managerHarness) sentSignals() []protocol.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Signal, len(h.sent))
	copy(out, h.sent)
	return out
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestRoomRosterTriggersOfferToEveryExistingMember(t *testing.T) {
	h := newManagerHarness(t, "me")
	ctx := context.Background()

	h.mgr.HandleRoomUsers(ctx, protocol.RoomUsers{Users: []string{"peer-a", "peer-b", "me"}})

	if got := len(h.mgr.Sessions()); got != 2 {
		t.Fatalf("session count %d, want 2 (own ID skipped)", got)
	}
	offers := 0
	for _, sig := range h.sentSignals() {
		if sig.Kind == protocol.SignalOffer {
			offers++
			if sig.RoomID != "ROOM42" {
				t.Fatalf("offer stamped room %q", sig.RoomID)
			}
		}
	}
	if offers != 2 {
		t.Fatalf("sent %d offers, want 2", offers)
	}

	for _, remote := range []string{"peer-a", "peer-b"} {
		sess, ok := h.mgr.Session(remote)
		if !ok {
			t.Fatalf("no session for %s", remote)
		}
		if sess.Role() != RoleOfferer || sess.State() != StateOffering {
			t.Fatalf("%s role %v state %v", remote, sess.Role(), sess.State())
		}
	}
}

func TestNewcomerTriggersOffer(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.HandleUserJoined(context.Background(), protocol.UserJoined{
		UserID:   "newbie",
		UserInfo: protocol.UserInfo{ID: "newbie", Nickname: "carol"},
	})

	sess, ok := h.mgr.Session("newbie")
	if !ok {
		t.Fatal("no session created")
	}
	if sess.Nickname() != "carol" {
		t.Fatalf("nickname %q", sess.Nickname())
	}
	if sess.State() != StateOffering {
		t.Fatalf("state %v", sess.State())
	}
}

func TestIncomingOfferCreatesAnsweringSession(t *testing.T) {
	h := newManagerHarness(t, "me")
	ctx := context.Background()

	h.mgr.HandleSignal(ctx, protocol.SignalEvent{
		From:    "stranger",
		Kind:    protocol.SignalOffer,
		Payload: mustMarshal(t, Description{Type: "offer", SDP: "v=0"}),
	})

	sess, ok := h.mgr.Session("stranger")
	if !ok {
		t.Fatal("no session for incoming offer")
	}
	if sess.Role() != RoleAnswerer {
		t.Fatalf("role %v, want answerer", sess.Role())
	}

	var answers int
	for _, sig := range h.sentSignals() {
		if sig.Kind == protocol.SignalAnswer && sig.To == "stranger" {
			answers++
		}
	}
	if answers != 1 {
		t.Fatalf("sent %d answers, want 1", answers)
	}
}

func TestCandidateForUnknownSessionIsDropped(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.HandleSignal(context.Background(), protocol.SignalEvent{
		From:    "ghost",
		Kind:    protocol.SignalCandidate,
		Payload: mustMarshal(t, Candidate{Candidate: "candidate:1"}),
	})

	if _, ok := h.mgr.Session("ghost"); ok {
		t.Fatal("candidate must not create a session")
	}
	if len(h.transports) != 0 {
		t.Fatal("transport built for dropped candidate")
	}
}

func TestAnswerForUnknownSessionIsDropped(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.HandleSignal(context.Background(), protocol.SignalEvent{
		From:    "ghost",
		Kind:    protocol.SignalAnswer,
		Payload: mustMarshal(t, Description{Type: "answer", SDP: "v=0"}),
	})
	if _, ok := h.mgr.Session("ghost"); ok {
		t.Fatal("answer must not create a session")
	}
}

func TestUserLeftClosesAndRemovesSession(t *testing.T) {
	h := newManagerHarness(t, "me")
	ctx := context.Background()

	h.mgr.HandleRoomUsers(ctx, protocol.RoomUsers{Users: []string{"peer-a"}})
	sess, _ := h.mgr.Session("peer-a")

	h.mgr.HandleUserLeft(protocol.UserLeft{UserID: "peer-a"})

	if sess.State() != StateClosed {
		t.Fatalf("state %v, want closed", sess.State())
	}
	if _, ok := h.mgr.Session("peer-a"); ok {
		t.Fatal("session not removed from table")
	}
	if !h.transports[0].isClosed() {
		t.Fatal("transport not released")
	}
}

func TestOffererOpensChatChannel(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.HandleRoomUsers(context.Background(), protocol.RoomUsers{Users: []string{"peer-a"}})

	tr := h.transports[0]
	tr.mu.Lock()
	channels := len(tr.channels)
	var label string
	if channels > 0 {
		label = tr.channels[0].label
	}
	tr.mu.Unlock()
	if channels != 1 || label != ChatChannelLabel {
		t.Fatalf("chat channel not opened, channels=%d label=%q", channels, label)
	}

	// The channel is attached to the fanout.
	if got := h.chat.Send("hello"); got != 1 {
		t.Fatalf("fanout sent to %d channels, want 1", got)
	}
}

func TestPassiveDataChannelIsAttached(t *testing.T) {
	h := newManagerHarness(t, "zz-late") // larger ID, answers incoming offers
	ctx := context.Background()

	h.mgr.HandleSignal(ctx, protocol.SignalEvent{
		From:    "aa-early",
		Kind:    protocol.SignalOffer,
		Payload: mustMarshal(t, Description{Type: "offer", SDP: "v=0"}),
	})

	tr := h.transports[0]
	dc := &fakeDataChannel{label: ChatChannelLabel, open: true}
	tr.callbacks().OnDataChannel(dc)

	got := make(chan string, 1)
	h.chat.Subscribe(func(fromID, text string) { got <- fromID + ":" + text })

	frame, err := marshalChat("hi there")
	if err != nil {
		t.Fatal(err)
	}
	dc.deliver(frame)

	select {
	case msg := <-got:
		if msg != "aa-early:hi there" {
			t.Fatalf("listener got %q", msg)
		}
	default:
		t.Fatal("chat frame not delivered to listener")
	}
}

func TestLocalTracksSyncedOntoNewSessions(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.SetLocalTracks(map[string]LocalTrack{
		KindVideo: fakeLocalTrack{id: "v1", kind: KindVideo},
	})
	h.mgr.HandleRoomUsers(context.Background(), protocol.RoomUsers{Users: []string{"peer-a"}})

	tr := h.transports[0]
	tr.mu.Lock()
	handles := len(tr.handles)
	tr.mu.Unlock()
	if handles != 1 {
		t.Fatalf("new session has %d track handles, want 1", handles)
	}
}

func TestCloseAllTearsDownEverySession(t *testing.T) {
	h := newManagerHarness(t, "me")

	h.mgr.HandleRoomUsers(context.Background(), protocol.RoomUsers{Users: []string{"a", "b", "c"}})
	if got := len(h.mgr.Sessions()); got != 3 {
		t.Fatalf("session count %d", got)
	}

	h.mgr.CloseAll()
	if got := len(h.mgr.Sessions()); got != 0 {
		t.Fatalf("%d sessions survive CloseAll", got)
	}
	for i, tr := range h.transports {
		if !tr.isClosed() {
			t.Fatalf("transport %d not closed", i)
		}
	}
}
