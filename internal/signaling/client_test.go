package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/huddlelabs/huddle/internal/protocol"
)

// scriptedRelay upgrades one connection and plays back canned envelopes,
// for client behavior the real server never exhibits.
func scriptedRelay(t *testing.T, envs ...protocol.Envelope) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for _, env := range envs {
			if err := ws.WriteJSON(env); err != nil {
				t.Errorf("write: %v", err)
				return
			}
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func mustEnvelope(t *testing.T, eventType string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestClientIgnoresDuplicateWelcome(t *testing.T) {
	url := scriptedRelay(t,
		mustEnvelope(t, protocol.EventWelcome, protocol.Welcome{UserID: "first-id"}),
		mustEnvelope(t, protocol.EventWelcome, protocol.Welcome{UserID: "second-id"}),
		mustEnvelope(t, protocol.EventChatMessage, protocol.ChatMessage{
			ID: "m1", From: "x", Nickname: "x", Content: "still alive", Timestamp: 1,
		}),
	)

	chatCh := make(chan protocol.ChatMessage, 1)
	c := dialTest(t, url, ClientHandlers{
		OnChatMessage: func(msg protocol.ChatMessage) { chatCh <- msg },
	})

	if c.UserID() != "first-id" {
		t.Fatalf("user id %q, want the first welcome's identity", c.UserID())
	}
	// The read loop must survive the duplicate and keep dispatching.
	msg := waitFor(t, chatCh, "chat after duplicate welcome")
	if msg.Content != "still alive" {
		t.Fatalf("chat content %q", msg.Content)
	}
	if c.UserID() != "first-id" {
		t.Fatalf("user id changed to %q after duplicate welcome", c.UserID())
	}
}

func TestClientDialFailsWhenConnClosesBeforeWelcome(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	_, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), testLogger(), ClientHandlers{})
	if err == nil {
		t.Fatal("dial should fail when the relay closes before welcome")
	}
}
