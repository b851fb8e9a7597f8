// Package signaling hosts the relay's WebSocket endpoint. Each connection is
// assigned a server-side identity, greeted with a welcome event, then driven
// by a read loop that dispatches typed envelopes to the room registry.
package signaling

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddlelabs/huddle/internal/config"
	"github.com/huddlelabs/huddle/internal/metrics"
	"github.com/huddlelabs/huddle/internal/registry"
)

// Server upgrades HTTP requests to signaling WebSockets and owns the set of
// live connections.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	upgrader websocket.Upgrader

	conns *connSet
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics, reg *registry.Registry) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if reg == nil {
		reg = registry.New(log, m)
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		registry: reg,
		upgrader: websocket.Upgrader{
			// Browsers connect from arbitrary origins; identity is per
			// connection and rooms are unguessable codes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: newConnSet(),
	}
}

// Registry exposes the room registry backing this server.
func (s *Server) Registry() *registry.Registry { return s.registry }

// ConnectionCount reports the number of live signaling sockets.
func (s *Server) ConnectionCount() int { return s.conns.len() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := newConn(s, ws, uuid.NewString())
	s.conns.add(c)
	s.log.Info("signaling connection opened", "user_id", c.id, "remote", r.RemoteAddr)

	go c.writeLoop()
	go func() {
		c.readLoop()
		s.conns.remove(c)
		s.registry.DisconnectPeer(c.id)
		s.log.Info("signaling connection closed", "user_id", c.id)
	}()
}
