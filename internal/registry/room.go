package registry

import (
	"sync"
	"time"

	"github.com/huddlelabs/huddle/internal/protocol"
)

// Peer is the delivery handle the registry holds for a connected client.
// Deliver must not block; implementations drop frames for slow consumers.
type Peer interface {
	ID() string
	Deliver(env protocol.Envelope)
}

// Member is a participant in a single Room. It is owned by its Room and only
// mutated while the room lock is held.
type Member struct {
	ID             string
	Nickname       string
	IsAudioEnabled bool
	IsVideoEnabled bool

	peer Peer
}

func (m *Member) userInfo() protocol.UserInfo {
	return protocol.UserInfo{
		ID:             m.ID,
		Nickname:       m.Nickname,
		IsAudioEnabled: m.IsAudioEnabled,
		IsVideoEnabled: m.IsVideoEnabled,
	}
}

// Room holds the membership of one conference. All mutations and broadcasts
// for a room happen under its mutex, so joins, leaves and relayed envelopes
// for the same room never interleave inconsistently; distinct rooms proceed
// in parallel.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu      sync.Mutex
	members map[string]*Member
	// closed is set when the registry drops the empty room; a closed room
	// admits nobody, so a join racing the sweep retries against the map.
	closed bool
}

func newRoom(id, name string) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		members:   make(map[string]*Member),
	}
}

// addMember inserts the member and returns the IDs of the members that were
// already present. Admission fails on a closed room.
func (r *Room) addMember(m *Member) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	existing := make([]string, 0, len(r.members))
	for id := range r.members {
		existing = append(existing, id)
	}
	r.members[m.ID] = m
	return existing, true
}

// removeMember deletes the member and reports whether it was present and
// whether the room is now empty.
func (r *Room) removeMember(id string) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false, len(r.members) == 0
	}
	delete(r.members, id)
	return true, len(r.members) == 0
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) member(id string) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	return m, ok
}

func (r *Room) hasMember(id string) bool {
	_, ok := r.member(id)
	return ok
}

// broadcast delivers env to every member except those listed in skip.
func (r *Room) broadcast(env protocol.Envelope, skip ...string) {
	r.mu.Lock()
	peers := make([]Peer, 0, len(r.members))
outer:
	for id, m := range r.members {
		for _, s := range skip {
			if id == s {
				continue outer
			}
		}
		peers = append(peers, m.peer)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.Deliver(env)
	}
}

// deliverTo delivers env to a single member if still present.
func (r *Room) deliverTo(id string, env protocol.Envelope) bool {
	m, ok := r.member(id)
	if !ok {
		return false
	}
	m.peer.Deliver(env)
	return true
}
