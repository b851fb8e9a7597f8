// Package registry is the relay-side in-memory store of rooms and membership.
//
// The registry never trusts client-supplied identity: sender IDs, nicknames
// and timestamps on broadcast messages are stamped from the registry's own
// records. Operations referencing missing rooms or members are no-ops or
// return ok=false; they never take the registry down.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddlelabs/huddle/internal/metrics"
	"github.com/huddlelabs/huddle/internal/protocol"
)

type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

func New(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		log:     log,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// CreateRoom allocates a fresh room and returns its ID. The creator is not a
// member until it joins.
func (g *Registry) CreateRoom(name, nickname string) string {
	if name == "" {
		if nickname == "" {
			nickname = "anonymous"
		}
		name = fmt.Sprintf("%s's room", nickname)
	}

	g.mu.Lock()
	var id string
	for {
		id = generateRoomID()
		if _, taken := g.rooms[id]; !taken {
			break
		}
	}
	g.rooms[id] = newRoom(id, name)
	g.mu.Unlock()

	g.metrics.Inc(metrics.RoomCreated)
	g.log.Info("room created", "room_id", id, "name", name)
	return id
}

// Join adds the peer to the room, auto-creating it when unknown (any code
// lets a client in). It returns the room info and the IDs of the members
// already present, and broadcasts user-joined to them.
func (g *Registry) Join(roomID, nickname string, peer Peer) (protocol.RoomInfo, []string, error) {
	if roomID == "" {
		return protocol.RoomInfo{}, nil, fmt.Errorf("join: missing room id")
	}
	if nickname == "" {
		nickname = "anonymous"
	}

	member := &Member{
		ID:       peer.ID(),
		Nickname: nickname,
		// Media starts enabled; the client reports changes via media-state.
		IsAudioEnabled: true,
		IsVideoEnabled: true,
		peer:           peer,
	}

	// Admission can race the empty-room sweep: the room looked up here may be
	// closed before addMember runs. A closed room refuses admission, so loop
	// back to the map, which no longer holds it.
	var room *Room
	var existing []string
	for {
		g.mu.Lock()
		r, ok := g.rooms[roomID]
		if !ok {
			r = newRoom(roomID, "Room "+roomID)
			g.rooms[roomID] = r
			g.metrics.Inc(metrics.RoomCreated)
			g.log.Info("room auto-created", "room_id", roomID)
		}
		g.mu.Unlock()

		members, admitted := r.addMember(member)
		if admitted {
			room = r
			existing = members
			break
		}
	}

	joined, err := protocol.NewEnvelope(protocol.EventUserJoined, protocol.UserJoined{
		UserID:   member.ID,
		UserInfo: member.userInfo(),
	})
	if err != nil {
		return protocol.RoomInfo{}, nil, err
	}
	room.broadcast(joined, member.ID)

	g.metrics.Inc(metrics.MemberJoined)
	g.log.Info("member joined", "room_id", roomID, "user_id", member.ID, "nickname", nickname)

	return protocol.RoomInfo{
		ID:        room.ID,
		Name:      room.Name,
		UserCount: room.memberCount(),
	}, existing, nil
}

// Leave removes the peer from the room, broadcasts user-left, and deletes
// the room once its member set is empty. Unknown rooms/members are no-ops.
func (g *Registry) Leave(roomID, peerID string) {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return
	}

	removed, empty := room.removeMember(peerID)
	if !removed {
		return
	}

	g.metrics.Inc(metrics.MemberLeft)
	g.log.Info("member left", "room_id", roomID, "user_id", peerID)

	if empty {
		g.deleteRoomIfEmpty(roomID)
		return
	}

	left, err := protocol.NewEnvelope(protocol.EventUserLeft, protocol.UserLeft{UserID: peerID})
	if err != nil {
		return
	}
	room.broadcast(left)
}

// DisconnectPeer sweeps the peer out of every room it is a member of. The
// relay calls this when a WebSocket drops without an explicit leave.
func (g *Registry) DisconnectPeer(peerID string) {
	g.mu.Lock()
	roomIDs := make([]string, 0, len(g.rooms))
	for id, room := range g.rooms {
		if room.hasMember(peerID) {
			roomIDs = append(roomIDs, id)
		}
	}
	g.mu.Unlock()

	for _, id := range roomIDs {
		g.Leave(id, peerID)
	}
}

// RelaySignal forwards the envelope to the exact recipient connection if it
// is still a member of the room. A missing recipient is silently dropped:
// the sender detects failure through its own negotiation timeout or the
// transport's connectivity signal.
func (g *Registry) RelaySignal(fromID string, sig protocol.Signal) {
	g.mu.Lock()
	room, ok := g.rooms[sig.RoomID]
	g.mu.Unlock()
	if !ok || !room.hasMember(fromID) {
		g.metrics.Inc(metrics.SignalDropped)
		return
	}

	env, err := protocol.NewEnvelope(protocol.EventSignal, protocol.SignalEvent{
		From:    fromID,
		Kind:    sig.Kind,
		Payload: sig.Payload,
	})
	if err != nil {
		g.metrics.Inc(metrics.SignalDropped)
		return
	}

	if !room.deliverTo(sig.To, env) {
		g.metrics.Inc(metrics.SignalDropped)
		g.log.Debug("signal dropped, recipient gone", "room_id", sig.RoomID, "from", fromID, "to", sig.To, "kind", sig.Kind)
		return
	}
	g.metrics.Inc(metrics.SignalRelayed)
	g.log.Debug("signal relayed", "room_id", sig.RoomID, "from", fromID, "to", sig.To, "kind", sig.Kind)
}

// BroadcastChat stamps a chat message with server-side identity and fans it
// out to every member of the room, sender included.
func (g *Registry) BroadcastChat(roomID, fromID, content string) (protocol.ChatMessage, bool) {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return protocol.ChatMessage{}, false
	}

	sender, ok := room.member(fromID)
	if !ok {
		return protocol.ChatMessage{}, false
	}

	msg := protocol.ChatMessage{
		ID:        uuid.NewString(),
		From:      sender.ID,
		Nickname:  sender.Nickname,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	env, err := protocol.NewEnvelope(protocol.EventChatMessage, msg)
	if err != nil {
		return protocol.ChatMessage{}, false
	}
	room.broadcast(env)
	g.metrics.Inc(metrics.ChatBroadcast)
	return msg, true
}

// UpdateMediaState records the member's audio/video flags and broadcasts the
// change to the rest of the room.
func (g *Registry) UpdateMediaState(roomID, peerID string, audioEnabled, videoEnabled bool) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return false
	}

	m, ok := room.member(peerID)
	if !ok {
		return false
	}

	room.mu.Lock()
	m.IsAudioEnabled = audioEnabled
	m.IsVideoEnabled = videoEnabled
	room.mu.Unlock()

	env, err := protocol.NewEnvelope(protocol.EventUserMediaState, protocol.UserMediaState{
		UserID:         peerID,
		IsAudioEnabled: audioEnabled,
		IsVideoEnabled: videoEnabled,
	})
	if err != nil {
		return false
	}
	room.broadcast(env, peerID)
	g.metrics.Inc(metrics.MediaStateUpdated)
	return true
}

// RoomCount reports the number of live rooms (for the health endpoint).
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Room returns a live room by ID, mainly for tests and the health surface.
func (g *Registry) Room(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

func (g *Registry) deleteRoomIfEmpty(roomID string) {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return
	}

	// Close under the room lock while holding the registry lock, so the room
	// is never both deleted from the map and open for admission.
	room.mu.Lock()
	if len(room.members) > 0 {
		room.mu.Unlock()
		g.mu.Unlock()
		return
	}
	room.closed = true
	room.mu.Unlock()

	delete(g.rooms, roomID)
	g.mu.Unlock()

	g.metrics.Inc(metrics.RoomDeleted)
	g.log.Info("empty room deleted", "room_id", roomID)
}
