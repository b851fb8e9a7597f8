package metrics

import "sync"

// Event names incremented by the relay. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	RoomCreated       = "room_created"
	RoomDeleted       = "room_deleted"
	MemberJoined      = "member_joined"
	MemberLeft        = "member_left"
	SignalRelayed     = "signal_relayed"
	SignalDropped     = "signal_dropped"
	ChatBroadcast     = "chat_broadcast"
	MediaStateUpdated = "media_state_updated"

	DropReasonRateLimited = "rate_limited"
	DropReasonBadMessage  = "bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep routing logic testable and to provide drop counters for
// the signaling surface.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
