package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlelabs/huddle/internal/protocol"
)

const clientRequestTimeout = 10 * time.Second

// ClientHandlers receives server-pushed events. Handlers run on the client's
// read goroutine; they must not block.
type ClientHandlers struct {
	OnSignal         func(ev protocol.SignalEvent)
	OnUserJoined     func(ev protocol.UserJoined)
	OnUserLeft       func(ev protocol.UserLeft)
	OnRoomUsers      func(ev protocol.RoomUsers)
	OnChatMessage    func(msg protocol.ChatMessage)
	OnUserMediaState func(ev protocol.UserMediaState)
	OnError          func(ev protocol.ErrorEvent)
	OnClose          func(err error)
}

// Client is one peer's connection to the relay. Outbound writes are
// serialized; CreateRoom and Join are synchronous and at most one such
// request may be in flight at a time.
type Client struct {
	log      *slog.Logger
	handlers ClientHandlers

	ws      *websocket.Conn
	writeMu sync.Mutex

	userID   string
	welcomed chan struct{}

	mu      sync.Mutex
	pending chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the relay's signaling endpoint and waits for the welcome
// event that carries this connection's server-assigned identity.
func Dial(ctx context.Context, url string, log *slog.Logger, handlers ClientHandlers) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		log:      log,
		handlers: handlers,
		ws:       ws,
		welcomed: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go c.readLoop()

	select {
	case <-c.welcomed:
	case <-c.closed:
		return nil, fmt.Errorf("signaling connection closed before welcome")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

// UserID is the identity the relay assigned to this connection.
func (c *Client) UserID() string { return c.userID }

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

// CreateRoom asks the relay for a fresh room and returns its ID.
func (c *Client) CreateRoom(ctx context.Context, name, nickname string) (string, error) {
	env, err := c.request(ctx, protocol.EventCreateRoom,
		protocol.CreateRoom{Name: name, Nickname: nickname}, protocol.EventCreateRoomResult)
	if err != nil {
		return "", err
	}
	var res protocol.CreateRoomResult
	if err := env.Decode(&res); err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("create-room rejected: %s", res.Error)
	}
	return res.RoomID, nil
}

// Join enters the room (creating it server-side if the code is unknown) and
// returns the room info. Existing members arrive via OnRoomUsers.
func (c *Client) Join(ctx context.Context, roomID, nickname string) (protocol.RoomInfo, error) {
	env, err := c.request(ctx, protocol.EventJoinRoom,
		protocol.JoinRoom{RoomID: roomID, Nickname: nickname}, protocol.EventJoinRoomResult)
	if err != nil {
		return protocol.RoomInfo{}, err
	}
	var res protocol.JoinRoomResult
	if err := env.Decode(&res); err != nil {
		return protocol.RoomInfo{}, err
	}
	if !res.Success || res.RoomInfo == nil {
		return protocol.RoomInfo{}, fmt.Errorf("join-room rejected: %s", res.Error)
	}
	return *res.RoomInfo, nil
}

func (c *Client) Leave(roomID string) error {
	return c.sendEvent(protocol.EventLeaveRoom, protocol.LeaveRoom{RoomID: roomID})
}

// SendSignal forwards a negotiation message (offer, answer or candidate) to
// one other member of the room.
func (c *Client) SendSignal(sig protocol.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	return c.sendEvent(protocol.EventSignal, sig)
}

func (c *Client) SendChat(roomID, content string) error {
	return c.sendEvent(protocol.EventChatMessage, protocol.ChatSend{RoomID: roomID, Content: content})
}

func (c *Client) SendMediaState(roomID string, audioEnabled, videoEnabled bool) error {
	return c.sendEvent(protocol.EventMediaState, protocol.MediaState{
		RoomID:         roomID,
		IsAudioEnabled: audioEnabled,
		IsVideoEnabled: videoEnabled,
	})
}

func (c *Client) sendEvent(eventType string, payload any) error {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

// request sends a frame and waits for the single matching response event.
func (c *Client) request(ctx context.Context, eventType string, payload any, wantType string) (protocol.Envelope, error) {
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return protocol.Envelope{}, fmt.Errorf("%s: another request is in flight", eventType)
	}
	c.pending = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	if err := c.sendEvent(eventType, payload); err != nil {
		return protocol.Envelope{}, err
	}

	timer := time.NewTimer(clientRequestTimeout)
	defer timer.Stop()
	select {
	case env := <-ch:
		if env.Type != wantType {
			return protocol.Envelope{}, fmt.Errorf("%s: unexpected response %s", eventType, env.Type)
		}
		return env, nil
	case <-timer.C:
		return protocol.Envelope{}, fmt.Errorf("%s: timed out waiting for %s", eventType, wantType)
	case <-c.closed:
		return protocol.Envelope{}, fmt.Errorf("%s: connection closed", eventType)
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	var loopErr error
	defer func() {
		c.Close()
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(loopErr)
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				loopErr = err
			}
			return
		}
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.log.Warn("unparseable frame from relay", "err", err)
			continue
		}
		c.handleEvent(env)
	}
}

func (c *Client) handleEvent(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventWelcome:
		var w protocol.Welcome
		if err := env.Decode(&w); err != nil {
			c.log.Warn("bad welcome payload", "err", err)
			return
		}
		select {
		case <-c.welcomed:
			// The relay sends exactly one welcome; keep the first identity.
			c.log.Warn("duplicate welcome from relay ignored", "user_id", w.UserID)
		default:
			c.userID = w.UserID
			close(c.welcomed)
		}

	case protocol.EventCreateRoomResult, protocol.EventJoinRoomResult:
		c.mu.Lock()
		ch := c.pending
		c.mu.Unlock()
		if ch == nil {
			c.log.Warn("unsolicited response from relay", "event", env.Type)
			return
		}
		select {
		case ch <- env:
		default:
		}

	case protocol.EventSignal:
		var ev protocol.SignalEvent
		if err := env.Decode(&ev); err != nil {
			c.log.Warn("bad signal payload", "err", err)
			return
		}
		if c.handlers.OnSignal != nil {
			c.handlers.OnSignal(ev)
		}

	case protocol.EventUserJoined:
		var ev protocol.UserJoined
		if err := env.Decode(&ev); err != nil {
			return
		}
		if c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(ev)
		}

	case protocol.EventUserLeft:
		var ev protocol.UserLeft
		if err := env.Decode(&ev); err != nil {
			return
		}
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(ev)
		}

	case protocol.EventRoomUsers:
		var ev protocol.RoomUsers
		if err := env.Decode(&ev); err != nil {
			return
		}
		if c.handlers.OnRoomUsers != nil {
			c.handlers.OnRoomUsers(ev)
		}

	case protocol.EventChatMessage:
		var msg protocol.ChatMessage
		if err := env.Decode(&msg); err != nil {
			return
		}
		if c.handlers.OnChatMessage != nil {
			c.handlers.OnChatMessage(msg)
		}

	case protocol.EventUserMediaState:
		var ev protocol.UserMediaState
		if err := env.Decode(&ev); err != nil {
			return
		}
		if c.handlers.OnUserMediaState != nil {
			c.handlers.OnUserMediaState(ev)
		}

	case protocol.EventError:
		var ev protocol.ErrorEvent
		if err := env.Decode(&ev); err != nil {
			return
		}
		c.log.Warn("relay error", "code", ev.Code, "message", ev.Message)
		if c.handlers.OnError != nil {
			c.handlers.OnError(ev)
		}

	default:
		c.log.Warn("unknown event from relay", "event", env.Type)
	}
}
