package rtc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ChatChannelLabel names the fallback chat channel the offerer opens at
// connection-setup time.
const ChatChannelLabel = "chat"

// channelEnvelope is the JSON frame exchanged on direct data channels.
type channelEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const channelTypeChat = "chat"

// ChatFanout owns the direct chat channels across all sessions. It is a
// secondary path: chat stays deliverable through the relay broadcast whether
// or not any direct channel is open.
type ChatFanout struct {
	log *slog.Logger

	mu        sync.Mutex
	channels  map[string]DataChannel
	listeners []func(fromID, text string)
}

func NewChatFanout(log *slog.Logger) *ChatFanout {
	if log == nil {
		log = slog.Default()
	}
	return &ChatFanout{
		log:      log,
		channels: make(map[string]DataChannel),
	}
}

// Subscribe registers a listener for chat arriving on any direct channel.
func (f *ChatFanout) Subscribe(fn func(fromID, text string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Attach adopts a channel for the given remote, replacing any prior one, and
// starts delivering its chat frames to the listeners.
func (f *ChatFanout) Attach(remoteID string, dc DataChannel) {
	dc.OnMessage(func(data []byte) {
		f.handleFrame(remoteID, data)
	})

	f.mu.Lock()
	prev, had := f.channels[remoteID]
	f.channels[remoteID] = dc
	f.mu.Unlock()

	if had {
		_ = prev.Close()
	}
	f.log.Debug("chat channel attached", "remote", remoteID, "label", dc.Label())
}

// Detach drops and closes the remote's channel, if any.
func (f *ChatFanout) Detach(remoteID string) {
	f.mu.Lock()
	dc, ok := f.channels[remoteID]
	delete(f.channels, remoteID)
	f.mu.Unlock()
	if ok {
		_ = dc.Close()
	}
}

// Send ships a chat frame to every currently-open channel. Channels not in
// an open state are skipped, not queued. Returns how many channels were
// written to.
func (f *ChatFanout) Send(text string) int {
	frame, err := marshalChat(text)
	if err != nil {
		f.log.Error("encode chat frame", "err", err)
		return 0
	}

	f.mu.Lock()
	targets := make(map[string]DataChannel, len(f.channels))
	for id, dc := range f.channels {
		targets[id] = dc
	}
	f.mu.Unlock()

	sent := 0
	for id, dc := range targets {
		if !dc.IsOpen() {
			continue
		}
		if err := dc.Send(frame); err != nil {
			f.log.Warn("chat channel send failed", "remote", id, "err", err)
			continue
		}
		sent++
	}
	return sent
}

func (f *ChatFanout) handleFrame(remoteID string, data []byte) {
	var env channelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Warn("bad data channel frame", "remote", remoteID, "err", err)
		return
	}
	if env.Type != channelTypeChat {
		f.log.Debug("ignoring data channel frame", "remote", remoteID, "type", env.Type)
		return
	}
	var text string
	if err := json.Unmarshal(env.Payload, &text); err != nil {
		f.log.Warn("bad chat payload", "remote", remoteID, "err", err)
		return
	}

	f.mu.Lock()
	listeners := make([]func(string, string), len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(remoteID, text)
	}
}

func marshalChat(text string) ([]byte, error) {
	payload, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(channelEnvelope{Type: channelTypeChat, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode chat envelope: %w", err)
	}
	return frame, nil
}

// OpenDataChannel asks the transport for an ordered channel. The offerer
// opens the fallback chat channel before its first offer so the channel
// rides the initial negotiation.
func (s *Session) OpenDataChannel(label string) (DataChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, fmt.Errorf("session closed")
	}
	return s.transport.CreateDataChannel(label)
}
