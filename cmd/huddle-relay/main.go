package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/huddlelabs/huddle/internal/config"
	"github.com/huddlelabs/huddle/internal/httpserver"
	"github.com/huddlelabs/huddle/internal/metrics"
	"github.com/huddlelabs/huddle/internal/registry"
	"github.com/huddlelabs/huddle/internal/signaling"
	"github.com/huddlelabs/huddle/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting huddle-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	reg := registry.New(logger, m)
	sig := signaling.NewServer(cfg, logger, m, reg)

	iceProvider, err := buildICEProvider(cfg)
	if err != nil {
		logger.Error("failed to configure turn credential minting", "err", err)
		os.Exit(2)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(), httpserver.Deps{
		Signaling:       sig,
		Metrics:         metrics.PrometheusHandler(m),
		RoomCount:       reg.RoomCount,
		ConnectionCount: sig.ConnectionCount,
		ICEServers:      iceProvider,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// buildICEProvider returns nil when no TURN REST secret is configured, in
// which case the static ICE server list is served as-is.
func buildICEProvider(cfg config.Config) (func() ([]webrtc.ICEServer, error), error) {
	if cfg.TURNRestSecret == "" {
		return nil, nil
	}
	minter, err := turnrest.NewMinter(turnrest.Config{
		Secret: cfg.TURNRestSecret,
		TTL:    cfg.TURNRestTTL,
		Prefix: "huddle",
	})
	if err != nil {
		return nil, err
	}
	return func() ([]webrtc.ICEServer, error) {
		creds, err := minter.MintAnonymous()
		if err != nil {
			return nil, err
		}
		out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers)+1)
		out = append(out, cfg.ICEServers...)
		out = append(out, webrtc.ICEServer{
			URLs:       cfg.TURNRestURLs,
			Username:   creds.Username,
			Credential: creds.Credential,
		})
		return out, nil
	}, nil
}

func resolveBuildInfo() httpserver.BuildInfo {
	commit, ts := buildCommit, buildTime
	// Prefer ldflags-injected values but fall back to the Go build info, which
	// covers `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if ts == "" {
					ts = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: ts}
}
