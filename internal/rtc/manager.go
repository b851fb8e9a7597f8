package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlelabs/huddle/internal/protocol"
)

// TransportFactory builds one Transport per remote peer.
type TransportFactory func(ctx context.Context) (Transport, error)

// SignalSender ships an addressed signal envelope to the relay.
type SignalSender func(sig protocol.Signal) error

// Manager owns the session table for one room: the mapping from remote
// identifier to Session is mutated only behind the manager lock, never by
// raw shared access. It turns relay roster events into sessions and routes
// incoming signal envelopes to the right one.
type Manager struct {
	localID  string
	roomID   string
	factory  TransportFactory
	send     SignalSender
	chat     *ChatFanout
	debounce time.Duration
	log      *slog.Logger

	mu          sync.Mutex
	sessions    map[string]*Session
	localTracks map[string]LocalTrack
	quality     *QualityPolicy
}

func NewManager(localID, roomID string, factory TransportFactory, send SignalSender, chat *ChatFanout, debounce time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		localID:  localID,
		roomID:   roomID,
		factory:  factory,
		send:     send,
		chat:     chat,
		debounce: debounce,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// HandleRoomUsers initiates a setup exchange with every member that was
// already in the room when we joined.
func (m *Manager) HandleRoomUsers(ctx context.Context, ev protocol.RoomUsers) {
	for _, remoteID := range ev.Users {
		if remoteID == m.localID {
			continue
		}
		if err := m.initiate(ctx, remoteID, ""); err != nil {
			m.log.Error("initiate to existing member failed", "remote", remoteID, "err", err)
		}
	}
}

// HandleUserJoined initiates a setup exchange with a newcomer. The newcomer
// offers to us as well; glare resolution converges the pair on one session.
func (m *Manager) HandleUserJoined(ctx context.Context, ev protocol.UserJoined) {
	if err := m.initiate(ctx, ev.UserID, ev.UserInfo.Nickname); err != nil {
		m.log.Error("initiate to newcomer failed", "remote", ev.UserID, "err", err)
	}
}

// HandleUserLeft tears down the session for a departed member.
func (m *Manager) HandleUserLeft(ev protocol.UserLeft) {
	m.mu.Lock()
	sess, ok := m.sessions[ev.UserID]
	m.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// HandleSignal routes an incoming envelope to the matching session. An offer
// for an unknown remote creates a session in the answerer role. Candidates
// and answers for unknown sessions are dropped harmlessly.
func (m *Manager) HandleSignal(ctx context.Context, ev protocol.SignalEvent) {
	switch ev.Kind {
	case protocol.SignalOffer:
		var desc Description
		if err := json.Unmarshal(ev.Payload, &desc); err != nil {
			m.log.Warn("bad offer payload", "remote", ev.From, "err", err)
			return
		}
		sess, err := m.ensureSession(ctx, ev.From, "")
		if err != nil {
			m.log.Error("create answering session failed", "remote", ev.From, "err", err)
			return
		}
		_ = sess.HandleOffer(ctx, desc)

	case protocol.SignalAnswer:
		var desc Description
		if err := json.Unmarshal(ev.Payload, &desc); err != nil {
			m.log.Warn("bad answer payload", "remote", ev.From, "err", err)
			return
		}
		if sess, ok := m.Session(ev.From); ok {
			_ = sess.HandleAnswer(ctx, desc)
		}

	case protocol.SignalCandidate:
		var cand Candidate
		if err := json.Unmarshal(ev.Payload, &cand); err != nil {
			m.log.Warn("bad candidate payload", "remote", ev.From, "err", err)
			return
		}
		if sess, ok := m.Session(ev.From); ok {
			sess.HandleCandidate(cand)
		}

	default:
		m.log.Warn("unknown signal kind", "remote", ev.From, "kind", ev.Kind)
	}
}

// SetLocalTracks records the local capture state and syncs it onto every
// session. New sessions pick it up at creation.
func (m *Manager) SetLocalTracks(locals map[string]LocalTrack) {
	m.mu.Lock()
	m.localTracks = locals
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.SyncTracks(locals)
	}
}

// SetQualityPolicy records the encoding-quality goal and applies it to every
// session.
func (m *Manager) SetQualityPolicy(p QualityPolicy) {
	m.mu.Lock()
	m.quality = &p
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.ApplyQualityPolicy(p); err != nil {
			m.log.Warn("apply quality policy failed", "remote", sess.RemoteID(), "err", err)
		}
	}
}

// Session looks up the session for a remote identifier.
func (m *Manager) Session(remoteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[remoteID]
	return sess, ok
}

// Sessions snapshots the current session set, in no particular order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// CloseAll tears down every session, for local teardown or leaving the room.
func (m *Manager) CloseAll() {
	for _, sess := range m.Sessions() {
		sess.Close()
	}
}

// initiate ensures a session exists and starts the offer exchange. The
// offerer also opens the fallback chat channel before the first offer so it
// rides the initial negotiation.
func (m *Manager) initiate(ctx context.Context, remoteID, nickname string) error {
	sess, err := m.ensureSession(ctx, remoteID, nickname)
	if err != nil {
		return err
	}
	if sess.State() == StateIdle && m.chat != nil {
		dc, err := sess.OpenDataChannel(ChatChannelLabel)
		if err != nil {
			m.log.Warn("open chat channel failed", "remote", remoteID, "err", err)
		} else {
			m.chat.Attach(remoteID, dc)
		}
	}
	return sess.StartOffer(ctx)
}

func (m *Manager) ensureSession(ctx context.Context, remoteID, nickname string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[remoteID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	transport, err := m.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("build transport for %s: %w", remoteID, err)
	}

	m.mu.Lock()
	if sess, ok := m.sessions[remoteID]; ok {
		// Raced with another event for the same remote; keep theirs.
		m.mu.Unlock()
		_ = transport.Close()
		return sess, nil
	}

	sess := NewSession(m.localID, remoteID, nickname, transport, m.sendTo(remoteID), m.debounce, m.log, SessionHooks{
		OnClosed: m.removeSession,
		OnDataChannel: func(remote string, dc DataChannel) {
			if m.chat != nil {
				m.chat.Attach(remote, dc)
			}
		},
	})
	m.sessions[remoteID] = sess
	locals := m.localTracks
	quality := m.quality
	m.mu.Unlock()

	if len(locals) > 0 {
		sess.SyncTracks(locals)
	}
	if quality != nil {
		_ = sess.ApplyQualityPolicy(*quality)
	}
	return sess, nil
}

func (m *Manager) removeSession(remoteID string) {
	m.mu.Lock()
	delete(m.sessions, remoteID)
	m.mu.Unlock()
	if m.chat != nil {
		m.chat.Detach(remoteID)
	}
}

// sendTo wraps the relay sender into the session's SendFunc, stamping the
// destination and room.
func (m *Manager) sendTo(remoteID string) SendFunc {
	return func(kind string, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		return m.send(protocol.Signal{
			To:      remoteID,
			RoomID:  m.roomID,
			Kind:    kind,
			Payload: raw,
		})
	}
}
