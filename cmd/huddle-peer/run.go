package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/huddlelabs/huddle/internal/config"
	"github.com/huddlelabs/huddle/internal/protocol"
	"github.com/huddlelabs/huddle/internal/rtc"
	"github.com/huddlelabs/huddle/internal/signaling"
)

const dialTimeout = 15 * time.Second

type peerOptions struct {
	serverURL string
	nickname  string
	roomID    string
	roomName  string
	create    bool
}

// peerApp holds the pieces that the signaling read goroutine needs before and
// after the manager exists. The manager is only set once we know our identity
// and room; roster events cannot arrive before the join request is sent.
type peerApp struct {
	log  *slog.Logger
	chat *rtc.ChatFanout

	mu  sync.Mutex
	mgr *rtc.Manager
}

func (a *peerApp) manager() *rtc.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mgr
}

func (a *peerApp) setManager(m *rtc.Manager) {
	a.mu.Lock()
	a.mgr = m
	a.mu.Unlock()
}

func runPeer(opts peerOptions) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	app := &peerApp{
		log:  logger,
		chat: rtc.NewChatFanout(logger),
	}
	app.chat.Subscribe(func(fromID, text string) {
		fmt.Printf("[direct %s] %s\n", shortID(fromID), text)
	})

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	handlers := signaling.ClientHandlers{
		OnSignal: func(ev protocol.SignalEvent) {
			if m := app.manager(); m != nil {
				m.HandleSignal(context.Background(), ev)
			}
		},
		OnRoomUsers: func(ev protocol.RoomUsers) {
			if m := app.manager(); m != nil {
				m.HandleRoomUsers(context.Background(), ev)
			}
		},
		OnUserJoined: func(ev protocol.UserJoined) {
			fmt.Printf("* %s joined\n", ev.UserInfo.Nickname)
			if m := app.manager(); m != nil {
				m.HandleUserJoined(context.Background(), ev)
			}
		},
		OnUserLeft: func(ev protocol.UserLeft) {
			fmt.Printf("* %s left\n", shortID(ev.UserID))
			if m := app.manager(); m != nil {
				m.HandleUserLeft(ev)
			}
		},
		OnChatMessage: func(msg protocol.ChatMessage) {
			fmt.Printf("[%s] %s\n", msg.Nickname, msg.Content)
		},
		OnUserMediaState: func(ev protocol.UserMediaState) {
			logger.Debug("media state changed",
				"user", ev.UserID, "audio", ev.IsAudioEnabled, "video", ev.IsVideoEnabled)
		},
		OnError: func(ev protocol.ErrorEvent) {
			logger.Warn("relay error", "code", ev.Code, "message", ev.Message)
		},
		OnClose: func(err error) {
			if err != nil {
				logger.Warn("signaling connection lost", "err", err)
			}
			finish()
		},
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), dialTimeout)
	client, err := signaling.Dial(dialCtx, opts.serverURL, logger, handlers)
	cancelDial()
	if err != nil {
		return err
	}
	defer client.Close()

	roomID := opts.roomID
	if opts.create {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		roomID, err = client.CreateRoom(ctx, opts.roomName, opts.nickname)
		cancel()
		if err != nil {
			return err
		}
		fmt.Println("room code:", roomID)
	}

	api, err := rtc.NewPionAPI(logger)
	if err != nil {
		return err
	}
	factory := func(ctx context.Context) (rtc.Transport, error) {
		return rtc.NewPionTransport(api, cfg.ICEServers, logger)
	}
	mgr := rtc.NewManager(client.UserID(), roomID, factory, client.SendSignal,
		app.chat, cfg.RenegotiationDebounce, logger)
	app.setManager(mgr)
	defer mgr.CloseAll()

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), dialTimeout)
	info, err := client.Join(joinCtx, roomID, opts.nickname)
	cancelJoin()
	if err != nil {
		return err
	}
	fmt.Printf("joined %q as %s (%d members)\n", info.Name, shortID(client.UserID()), info.UserCount)

	// No capture device here; tell the room so cameras are not expected.
	if err := client.SendMediaState(roomID, false, false); err != nil {
		logger.Warn("send media state", "err", err)
	}

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	monitor := rtc.NewMonitor(cfg.StatsInterval, mgr.Sessions, func(remoteID string, snap rtc.StatsSnapshot) {
		logger.Debug("connection stats",
			"remote", remoteID,
			"in_bps", snap.InboundBitrate,
			"out_bps", snap.OutboundBitrate,
			"loss_pct", snap.PacketLossPct,
			"rtt", snap.RoundTripTime,
			"path", snap.Path,
		)
	}, logger)
	go monitor.Run(statsCtx)

	go stdinChatLoop(client, app, roomID, finish)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		fmt.Println("\nleaving room")
	case <-done:
	}

	mgr.CloseAll()
	if err := client.Leave(roomID); err != nil {
		logger.Debug("leave room", "err", err)
	}
	return nil
}

// stdinChatLoop ships each line of input as chat, one path per line so no
// remote prints the same message twice.
func stdinChatLoop(client *signaling.Client, app *peerApp, roomID string, finish func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			finish()
			return
		}
		relay := func(text string) error { return client.SendChat(roomID, text) }
		if err := sendChatLine(relay, app.chat, line); err != nil {
			app.log.Warn("send chat", "err", err)
			finish()
			return
		}
	}
	finish()
}

// sendChatLine prefers the direct channels once any is open; the relay
// broadcast is the fallback when none are.
func sendChatLine(relay func(text string) error, chat *rtc.ChatFanout, line string) error {
	if chat.Send(line) > 0 {
		return nil
	}
	return relay(line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
