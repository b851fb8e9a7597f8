package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "HUDDLE_LISTEN_ADDR"
	envVarPublicBaseURL   = "HUDDLE_PUBLIC_BASE_URL"
	envVarMode            = "HUDDLE_MODE"
	envVarLogFormat       = "HUDDLE_LOG_FORMAT"
	envVarLogLevel        = "HUDDLE_LOG_LEVEL"
	envVarShutdownTimeout = "HUDDLE_SHUTDOWN_TIMEOUT"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "HUDDLE_SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "HUDDLE_SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "HUDDLE_MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "HUDDLE_MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Client-side negotiation knobs (used by huddle-peer).
	envVarRenegotiationDebounce = "HUDDLE_RENEGOTIATION_DEBOUNCE"
	envVarStatsInterval         = "HUDDLE_STATS_INTERVAL"

	// Ephemeral TURN credentials (coturn REST API). When the secret is set,
	// GET /webrtc/ice mints short-lived credentials for these TURN URLs
	// instead of handing out a static username/credential pair.
	envVarTURNRestSecret = "HUDDLE_TURN_REST_SECRET"
	envVarTURNRestTTL    = "HUDDLE_TURN_REST_TTL"
	envVarTURNRestURLs   = "HUDDLE_TURN_REST_URLS"
)

const (
	DefaultListenAddr      = "127.0.0.1:3001"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultRenegotiationDebounce = 100 * time.Millisecond
	DefaultStatsInterval         = 1 * time.Second

	DefaultTURNRestTTL = 1 * time.Hour

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	PublicBaseURL   string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	RenegotiationDebounce time.Duration
	StatsInterval         time.Duration

	// ICEServers is the STUN/TURN list handed to clients (GET /ice) and used by
	// huddle-peer when constructing PeerConnections.
	ICEServers []webrtc.ICEServer

	// TURN REST credential minting. Active when the secret is non-empty.
	TURNRestSecret string
	TURNRestTTL    time.Duration
	TURNRestURLs   []string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRestSecret := envOrDefault(lookup, envVarTURNRestSecret, "")
	turnRestURLs := envOrDefault(lookup, envVarTURNRestURLs, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	renegotiationDebounce, err := envDurationOrDefault(lookup, envVarRenegotiationDebounce, DefaultRenegotiationDebounce)
	if err != nil {
		return Config{}, err
	}
	statsInterval, err := envDurationOrDefault(lookup, envVarStatsInterval, DefaultStatsInterval)
	if err != nil {
		return Config{}, err
	}
	turnRestTTL, err := envDurationOrDefault(lookup, envVarTURNRestTTL, DefaultTURNRestTTL)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}

	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("huddle", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "signaling-ws-idle-timeout", wsIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "signaling-ws-ping-interval", wsPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < idle timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.DurationVar(&renegotiationDebounce, "renegotiation-debounce", renegotiationDebounce, "Coalesce window for renegotiation requests (env "+envVarRenegotiationDebounce+")")
	fs.DurationVar(&statsInterval, "stats-interval", statsInterval, "Per-peer connection stats sampling interval (env "+envVarStatsInterval+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRestSecret, "turn-rest-secret", turnRestSecret, "Shared secret for minting ephemeral TURN credentials (env "+envVarTURNRestSecret+")")
	fs.StringVar(&turnRestURLs, "turn-rest-urls", turnRestURLs, "Comma-separated TURN URLs served with minted credentials (env "+envVarTURNRestURLs+")")
	fs.DurationVar(&turnRestTTL, "turn-rest-ttl", turnRestTTL, "Lifetime of minted TURN credentials (env "+envVarTURNRestTTL+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if renegotiationDebounce <= 0 {
		return Config{}, fmt.Errorf("%s/--renegotiation-debounce must be > 0", envVarRenegotiationDebounce)
	}
	if statsInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--stats-interval must be > 0", envVarStatsInterval)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	restURLs := splitCommaSeparated(turnRestURLs)
	if turnRestSecret != "" {
		if turnRestTTL <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be > 0", envVarTURNRestTTL)
		}
		if len(restURLs) == 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-urls must be set when %s is set", envVarTURNRestURLs, envVarTURNRestSecret)
		}
		if err := validateTURNRestURLs(restURLs); err != nil {
			return Config{}, fmt.Errorf("%s: %w", envVarTURNRestURLs, err)
		}
	} else if len(restURLs) > 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-secret must be set when %s is set", envVarTURNRestSecret, envVarTURNRestURLs)
	}

	return Config{
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,

		SignalingWSIdleTimeout:  wsIdleTimeout,
		SignalingWSPingInterval: wsPingInterval,

		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		RenegotiationDebounce: renegotiationDebounce,
		StatsInterval:         statsInterval,

		ICEServers: iceServers,

		TURNRestSecret: turnRestSecret,
		TURNRestTTL:    turnRestTTL,
		TURNRestURLs:   restURLs,
	}, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}
