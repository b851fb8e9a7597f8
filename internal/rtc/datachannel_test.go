package rtc

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestChatFanoutSendSkipsChannelsThatAreNotOpen(t *testing.T) {
	f := NewChatFanout(discardLogger())

	open := &fakeDataChannel{label: ChatChannelLabel, open: true}
	stale := &fakeDataChannel{label: ChatChannelLabel, open: false}
	f.Attach("alice", open)
	f.Attach("bob", stale)

	if sent := f.Send("hello"); sent != 1 {
		t.Fatalf("sent to %d channels, want 1", sent)
	}

	frames := open.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("open channel got %d frames", len(frames))
	}
	var env channelEnvelope
	if err := json.Unmarshal(frames[0], &env); err != nil {
		t.Fatalf("frame is not a channel envelope: %v", err)
	}
	if env.Type != "chat" {
		t.Fatalf("frame type %q", env.Type)
	}
	var text string
	if err := json.Unmarshal(env.Payload, &text); err != nil || text != "hello" {
		t.Fatalf("payload %s, err %v", env.Payload, err)
	}

	if len(stale.sentFrames()) != 0 {
		t.Fatal("frame queued on a channel that is not open")
	}
}

func TestChatFanoutDeliversFramesToSubscribers(t *testing.T) {
	f := NewChatFanout(discardLogger())
	dc := &fakeDataChannel{label: ChatChannelLabel, open: true}
	f.Attach("alice", dc)

	var mu sync.Mutex
	var got []string
	f.Subscribe(func(fromID, text string) {
		mu.Lock()
		got = append(got, fromID+":"+text)
		mu.Unlock()
	})

	frame, err := marshalChat("hi")
	if err != nil {
		t.Fatal(err)
	}
	dc.deliver(frame)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "alice:hi" {
		t.Fatalf("delivered %v", got)
	}
}

func TestChatFanoutIgnoresNonChatAndGarbageFrames(t *testing.T) {
	f := NewChatFanout(discardLogger())
	dc := &fakeDataChannel{label: ChatChannelLabel, open: true}
	f.Attach("alice", dc)

	var mu sync.Mutex
	delivered := 0
	f.Subscribe(func(string, string) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	dc.deliver([]byte(`not json`))
	dc.deliver([]byte(`{"type":"file-meta","payload":{"name":"x"}}`))
	dc.deliver([]byte(`{"type":"chat","payload":{"not":"a string"}}`))

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("%d frames leaked through", delivered)
	}
}

func TestChatFanoutAttachReplacesAndClosesPriorChannel(t *testing.T) {
	f := NewChatFanout(discardLogger())
	first := &fakeDataChannel{label: ChatChannelLabel, open: true}
	second := &fakeDataChannel{label: ChatChannelLabel, open: true}

	f.Attach("alice", first)
	f.Attach("alice", second)

	if first.IsOpen() {
		t.Fatal("replaced channel left open")
	}
	if sent := f.Send("hi"); sent != 1 {
		t.Fatalf("sent to %d channels, want 1", sent)
	}
	if len(second.sentFrames()) != 1 {
		t.Fatal("frame did not reach the replacement channel")
	}
}

func TestChatFanoutDetachClosesChannel(t *testing.T) {
	f := NewChatFanout(discardLogger())
	dc := &fakeDataChannel{label: ChatChannelLabel, open: true}
	f.Attach("alice", dc)

	f.Detach("alice")
	if dc.IsOpen() {
		t.Fatal("detached channel left open")
	}
	if sent := f.Send("hi"); sent != 0 {
		t.Fatalf("sent to %d channels after detach", sent)
	}
	// detaching an unknown remote is a no-op
	f.Detach("nobody")
}

func TestOpenDataChannelOnClosedSessionFails(t *testing.T) {
	tr := newFakeTransport()
	rec := &signalRecorder{}
	sess := NewSession("alice", "bob", "", tr, rec.send, testDebounce, discardLogger(), SessionHooks{})
	sess.Close()

	if _, err := sess.OpenDataChannel(ChatChannelLabel); err == nil {
		t.Fatal("expected error opening channel on closed session")
	}
}
