package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlelabs/huddle/internal/metrics"
	"github.com/huddlelabs/huddle/internal/protocol"
	"github.com/huddlelabs/huddle/internal/ratelimit"
)

const (
	writeWait = 10 * time.Second

	// Outbound queue per connection. Bursts beyond this (a slow consumer
	// in a busy room) close the connection rather than block the room.
	sendQueueSize = 64
)

// conn is one signaling WebSocket. It implements registry.Peer: Deliver
// enqueues onto the send channel and never blocks.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	id  string

	send chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(s *Server, ws *websocket.Conn, id string) *conn {
	return &conn{
		srv:    s,
		ws:     ws,
		id:     id,
		send:   make(chan protocol.Envelope, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Deliver queues env for the write loop. If the queue is full the peer is
// too slow to keep up and the connection is torn down.
func (c *conn) Deliver(env protocol.Envelope) {
	select {
	case c.send <- env:
	case <-c.closed:
	default:
		c.srv.log.Warn("send queue full, dropping connection", "user_id", c.id)
		c.close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *conn) writeClose(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// writeLoop is the sole writer on the socket. It drains the send queue and
// emits keepalive pings at the configured interval.
func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.srv.cfg.SignalingWSPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readLoop greets the client, then decodes and dispatches frames until the
// socket errors, the client misbehaves, or the idle timeout fires.
func (c *conn) readLoop() {
	defer c.close()

	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxSignalingMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
	})

	if !c.sendEvent(protocol.EventWelcome, protocol.Welcome{UserID: c.id}) {
		return
	}

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(cfg.MaxSignalingMessagesPerSecond), int64(cfg.MaxSignalingMessagesPerSecond))

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))

		if !limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.SignalDropped)
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.DropReasonBadMessage)
			c.sendError("bad-message", err.Error())
			continue
		}
		c.dispatch(env)
	}
}

func (c *conn) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventCreateRoom:
		c.handleCreateRoom(env)
	case protocol.EventJoinRoom:
		c.handleJoinRoom(env)
	case protocol.EventLeaveRoom:
		c.handleLeaveRoom(env)
	case protocol.EventSignal:
		c.handleSignal(env)
	case protocol.EventChatMessage:
		c.handleChat(env)
	case protocol.EventMediaState:
		c.handleMediaState(env)
	default:
		c.srv.metrics.Inc(metrics.DropReasonBadMessage)
		c.sendError("unknown-event", "unknown event type "+env.Type)
	}
}

func (c *conn) handleCreateRoom(env protocol.Envelope) {
	var req protocol.CreateRoom
	if err := env.Decode(&req); err != nil {
		c.sendEvent(protocol.EventCreateRoomResult, protocol.CreateRoomResult{Success: false, Error: err.Error()})
		return
	}
	id := c.srv.registry.CreateRoom(req.Name, req.Nickname)
	c.sendEvent(protocol.EventCreateRoomResult, protocol.CreateRoomResult{Success: true, RoomID: id})
}

func (c *conn) handleJoinRoom(env protocol.Envelope) {
	var req protocol.JoinRoom
	if err := env.Decode(&req); err != nil {
		c.sendEvent(protocol.EventJoinRoomResult, protocol.JoinRoomResult{Success: false, Error: err.Error()})
		return
	}
	info, existing, err := c.srv.registry.Join(req.RoomID, req.Nickname, c)
	if err != nil {
		c.sendEvent(protocol.EventJoinRoomResult, protocol.JoinRoomResult{Success: false, Error: err.Error()})
		return
	}
	c.sendEvent(protocol.EventJoinRoomResult, protocol.JoinRoomResult{Success: true, RoomInfo: &info})
	c.sendEvent(protocol.EventRoomUsers, protocol.RoomUsers{Users: existing})
}

func (c *conn) handleLeaveRoom(env protocol.Envelope) {
	var req protocol.LeaveRoom
	if err := env.Decode(&req); err != nil {
		c.sendError("bad-message", err.Error())
		return
	}
	c.srv.registry.Leave(req.RoomID, c.id)
}

func (c *conn) handleSignal(env protocol.Envelope) {
	var sig protocol.Signal
	if err := env.Decode(&sig); err != nil {
		c.sendError("bad-message", err.Error())
		return
	}
	if err := sig.Validate(); err != nil {
		c.srv.metrics.Inc(metrics.DropReasonBadMessage)
		c.sendError("bad-signal", err.Error())
		return
	}
	c.srv.registry.RelaySignal(c.id, sig)
}

func (c *conn) handleChat(env protocol.Envelope) {
	var req protocol.ChatSend
	if err := env.Decode(&req); err != nil {
		c.sendError("bad-message", err.Error())
		return
	}
	if _, ok := c.srv.registry.BroadcastChat(req.RoomID, c.id, req.Content); !ok {
		c.sendError("not-in-room", "chat requires room membership")
	}
}

func (c *conn) handleMediaState(env protocol.Envelope) {
	var req protocol.MediaState
	if err := env.Decode(&req); err != nil {
		c.sendError("bad-message", err.Error())
		return
	}
	if !c.srv.registry.UpdateMediaState(req.RoomID, c.id, req.IsAudioEnabled, req.IsVideoEnabled) {
		c.sendError("not-in-room", "media-state requires room membership")
	}
}

func (c *conn) sendEvent(eventType string, payload any) bool {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		c.srv.log.Error("encode event", "event", eventType, "err", err)
		return false
	}
	c.Deliver(env)
	return true
}

func (c *conn) sendError(code, message string) {
	c.sendEvent(protocol.EventError, protocol.ErrorEvent{Code: code, Message: message})
}

// connSet tracks live connections for the health endpoint.
type connSet struct {
	mu    sync.Mutex
	conns map[*conn]struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[*conn]struct{})}
}

func (s *connSet) add(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *connSet) remove(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *connSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
