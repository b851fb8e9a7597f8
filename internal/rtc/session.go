package rtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/huddlelabs/huddle/internal/protocol"
)

// Role is the side of the setup exchange this session currently plays for
// its remote peer. Glare resolution can reassign it.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// State is the session's negotiation state.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateStable
	StateNegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateStable:
		return "stable"
	case StateNegotiating:
		return "negotiating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SendFunc ships one signaling payload (a Description or Candidate) to the
// session's remote peer via the relay.
type SendFunc func(kind string, payload any) error

// Session is the negotiation state machine for one remote participant.
//
// All event entry points serialize on the session mutex: each event runs to
// completion before the next is processed. Transport callbacks arrive on
// transport goroutines and take the same lock. Distinct sessions proceed
// independently.
type Session struct {
	localID  string
	remoteID string
	nickname string

	// The peer with the lexicographically smaller ID yields on glare. IDs
	// are minted per connection; the tie-break is undefined if an ID is
	// reused across reconnects within one exchange.
	polite bool

	transport Transport
	send      SendFunc
	log       *slog.Logger
	debounce  time.Duration

	mu           sync.Mutex
	role         Role
	state        State
	pendingReneg bool
	renegTimer   *time.Timer

	codecPrefDone bool
	mungeSDP      bool

	tracks  map[string]TrackHandle
	quality *QualityPolicy

	lastRaw  *RawStats
	snapshot StatsSnapshot

	hooks SessionHooks
}

// SessionHooks are the session's outward notifications. All fields may be
// nil. OnClosed fires exactly once when the session reaches StateClosed.
type SessionHooks struct {
	OnClosed      func(remoteID string)
	OnDataChannel func(remoteID string, dc DataChannel)
	OnRemoteTrack func(remoteID, kind, trackID string)
}

// NewSession builds a session in StateIdle and binds itself to the
// transport's callbacks.
func NewSession(localID, remoteID, nickname string, transport Transport, send SendFunc, debounce time.Duration, log *slog.Logger, hooks SessionHooks) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		localID:   localID,
		remoteID:  remoteID,
		nickname:  nickname,
		polite:    localID < remoteID,
		transport: transport,
		send:      send,
		log:       log.With("remote", remoteID),
		debounce:  debounce,
		state:     StateIdle,
		role:      RoleAnswerer,
		tracks:    make(map[string]TrackHandle),
		hooks:     hooks,
	}
	transport.SetCallbacks(Callbacks{
		OnLocalCandidate:    s.handleLocalCandidate,
		OnConnectionState:   s.HandleConnectionState,
		OnNegotiationNeeded: s.RequestRenegotiation,
		OnSignalingStable:   s.HandleSignalingStable,
		OnDataChannel: func(dc DataChannel) {
			if s.hooks.OnDataChannel != nil {
				s.hooks.OnDataChannel(s.remoteID, dc)
			}
		},
		OnRemoteTrack: func(kind, trackID string) {
			if s.hooks.OnRemoteTrack != nil {
				s.hooks.OnRemoteTrack(s.remoteID, kind, trackID)
			}
		},
	})
	return s
}

func (s *Session) RemoteID() string { return s.remoteID }
func (s *Session) Nickname() string { return s.nickname }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// StartOffer initiates the first setup exchange with the remote. It is a
// no-op unless the session is idle.
func (s *Session) StartOffer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil
	}
	s.role = RoleOfferer
	s.state = StateOffering
	return s.sendOfferLocked(ctx)
}

// sendOfferLocked prepares (and thereby locally installs) an offer, then
// ships it. The local install happens before the send so the remote can
// never answer a description we have not committed to.
func (s *Session) sendOfferLocked(ctx context.Context) error {
	munge := s.preferCodecsLocked()
	offer, err := s.transport.PrepareOffer(ctx)
	if err != nil {
		s.log.Error("prepare offer failed", "err", err)
		s.state = StateIdle
		return err
	}
	if munge {
		s.applyCodecFallbackLocked(&offer)
	}
	if err := s.send(protocol.SignalOffer, offer); err != nil {
		s.log.Error("send offer failed", "err", err)
		s.state = StateIdle
		return err
	}
	s.log.Debug("offer sent", "role", s.role.String())
	return nil
}

// HandleOffer processes an incoming setup offer, resolving glare when both
// sides offered concurrently: the polite peer rolls back its own in-flight
// offer and answers; the impolite peer ignores the incoming offer.
func (s *Session) HandleOffer(ctx context.Context, offer Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	if s.state == StateOffering || s.state == StateNegotiating {
		if !s.polite {
			s.log.Debug("glare, ignoring incoming offer")
			return nil
		}
		s.log.Debug("glare, rolling back own offer")
		if err := s.transport.Rollback(ctx); err != nil {
			s.log.Error("rollback failed", "err", err)
			return err
		}
	}

	s.role = RoleAnswerer
	s.state = StateAnswering

	munge := s.preferCodecsLocked()
	answer, err := s.transport.PrepareAnswer(ctx, offer)
	if err != nil {
		s.log.Error("prepare answer failed", "err", err)
		s.state = StateIdle
		return err
	}
	if munge {
		s.applyCodecFallbackLocked(&answer)
	}
	if err := s.send(protocol.SignalAnswer, answer); err != nil {
		s.log.Error("send answer failed", "err", err)
		return err
	}
	s.log.Debug("answer sent")
	return nil
}

// HandleAnswer applies an incoming answer, but only while our own offer is
// in flight. Anything else is a stale answer from a superseded exchange and
// is discarded.
func (s *Session) HandleAnswer(ctx context.Context, answer Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOffering && s.state != StateNegotiating {
		s.log.Debug("discarding stale answer", "state", s.state.String())
		return nil
	}
	if err := s.transport.SetRemoteDescription(ctx, answer); err != nil {
		s.log.Error("apply answer failed", "err", err)
		return err
	}
	return nil
}

// HandleCandidate applies a remote network-reachability candidate. It is
// accepted in every state except closed; failures are logged and dropped.
func (s *Session) HandleCandidate(c Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if err := s.transport.AddICECandidate(c); err != nil {
		s.log.Warn("add candidate failed", "err", err)
	}
}

// HandleSignalingStable is invoked when the transport reports the description
// exchange complete, for both offerer and answerer paths. Quality parameters
// are reapplied since transports may reset sender state on renegotiation,
// and a deferred renegotiation request is flushed.
func (s *Session) HandleSignalingStable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOffering, StateAnswering, StateNegotiating:
	default:
		return
	}
	s.state = StateStable
	s.log.Debug("negotiation complete", "role", s.role.String())

	s.reapplyQualityLocked()

	if s.pendingReneg {
		s.scheduleRenegotiationLocked()
	}
}

// RequestRenegotiation records that the session needs a fresh setup
// exchange (a track was added, or a failed track update needs recovery).
// Requests are debounced so several track changes coalesce into one
// exchange. Only the offerer may initiate; an answerer's request stays
// pending until the remote offers.
func (s *Session) RequestRenegotiation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestRenegotiationLocked()
}

func (s *Session) requestRenegotiationLocked() {
	if s.state == StateClosed {
		return
	}
	s.pendingReneg = true
	if s.state != StateStable || s.role != RoleOfferer {
		return
	}
	s.scheduleRenegotiationLocked()
}

func (s *Session) scheduleRenegotiationLocked() {
	if s.renegTimer != nil {
		// Already armed; the pending request coalesces into it.
		return
	}
	s.renegTimer = time.AfterFunc(s.debounce, s.renegotiate)
}

func (s *Session) renegotiate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renegTimer = nil
	if s.state != StateStable || s.role != RoleOfferer || !s.pendingReneg {
		return
	}
	s.pendingReneg = false
	s.state = StateNegotiating
	_ = s.sendOfferLocked(context.Background())
}

// HandleConnectionState closes the session on terminal transport states.
func (s *Session) HandleConnectionState(st ConnectionState) {
	if st.Terminal() {
		s.log.Info("transport connectivity terminal", "state", st.String())
		s.Close()
	}
}

func (s *Session) handleLocalCandidate(c Candidate) {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.send(protocol.SignalCandidate, c); err != nil {
		s.log.Warn("send candidate failed", "err", err)
	}
}

// Close tears the session down: the debounce timer is cancelled, track
// handles are discarded and the transport is released. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.renegTimer != nil {
		s.renegTimer.Stop()
		s.renegTimer = nil
	}
	s.pendingReneg = false
	s.tracks = make(map[string]TrackHandle)
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		s.log.Warn("transport close failed", "err", err)
	}
	if s.hooks.OnClosed != nil {
		s.hooks.OnClosed(s.remoteID)
	}
	s.log.Info("session closed")
}
