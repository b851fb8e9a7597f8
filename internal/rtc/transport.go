// Package rtc implements the client-side negotiation layer: one Session per
// remote participant, a Manager that owns the session table and bridges the
// relay connection, track/quality steering, the fallback chat data channel
// and periodic connection stats.
//
// The actual connection setup (SDP construction, ICE, encryption, media
// transport) is delegated to a Transport. The production Transport is backed
// by pion; tests substitute a fake.
package rtc

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by optional transport capabilities that a
// particular implementation does not provide. Callers skip the operation,
// they never assume presence.
var ErrUnsupported = errors.New("rtc: capability not supported by transport")

// Track kinds, matching what transports report for media sections.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Description is a connection-setup description (an SDP blob plus its type).
type Description struct {
	Type string `json:"type"` // "offer", "answer"
	SDP  string `json:"sdp"`
}

// Candidate is one piece of network-reachability information.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnectionState is the transport's connectivity state, reduced to what the
// session machine cares about.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the state ends the session.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionDisconnected || s == ConnectionFailed || s == ConnectionClosed
}

// PathType classifies the negotiated network path.
type PathType string

const (
	PathDirect    PathType = "direct"
	PathReflexive PathType = "reflexive"
	PathRelayed   PathType = "relayed"
	PathUnknown   PathType = "unknown"
)

// RawStats is a cumulative metrics snapshot pulled from the transport. The
// stats monitor turns consecutive snapshots into rates.
type RawStats struct {
	Timestamp time.Time

	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64

	RoundTripTime time.Duration
	Path          PathType
}

// SenderParameters steers the encoder for one outbound media kind.
type SenderParameters struct {
	// MaxBitrate in bits per second; zero leaves the encoder default.
	MaxBitrate uint64
	// ContentHint is "detail" (favor sharpness) or "motion".
	ContentHint string
	// DegradationPreference is "maintain-resolution" or "balanced".
	DegradationPreference string
}

// LocalTrack is an outbound media source handed to the transport. Concrete
// transports type-assert to their native track type.
type LocalTrack interface {
	ID() string
	Kind() string
}

// TrackHandle is the transport's handle for one added outbound track.
type TrackHandle interface {
	Kind() string
	// Replace swaps the underlying track without renegotiation.
	Replace(t LocalTrack) error
	// Remove detaches the track; a renegotiation is required afterwards.
	Remove() error
}

// DataChannel is an ordered message channel riding the direct connection.
type DataChannel interface {
	Label() string
	IsOpen() bool
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	Close() error
}

// Callbacks are the transport's asynchronous notifications. They may fire
// from transport-internal goroutines; receivers do their own serialization.
// Unset callbacks are skipped.
type Callbacks struct {
	OnLocalCandidate    func(c Candidate)
	OnConnectionState   func(s ConnectionState)
	OnNegotiationNeeded func()
	OnSignalingStable   func()
	OnRemoteTrack       func(kind, id string)
	OnDataChannel       func(dc DataChannel)
}

// Transport is the narrow contract the negotiation layer consumes. All
// blocking operations take a context. SetSenderParameters and
// SetCodecPreferences are optional capabilities; implementations without
// them return ErrUnsupported.
type Transport interface {
	SetCallbacks(cb Callbacks)

	// PrepareOffer creates a setup offer and installs it as the local
	// description before returning it, so the returned description is
	// always safe to send.
	PrepareOffer(ctx context.Context) (Description, error)
	// PrepareAnswer installs the remote offer, then creates and installs
	// the local answer.
	PrepareAnswer(ctx context.Context, remote Description) (Description, error)
	// SetRemoteDescription installs a remote answer.
	SetRemoteDescription(ctx context.Context, remote Description) error
	// Rollback discards the in-flight local offer. Used by the polite side
	// of glare resolution.
	Rollback(ctx context.Context) error

	AddICECandidate(c Candidate) error

	AddTrack(t LocalTrack) (TrackHandle, error)
	CreateDataChannel(label string) (DataChannel, error)

	GetStats(ctx context.Context) (RawStats, error)
	SetSenderParameters(kind string, p SenderParameters) error
	SetCodecPreferences(kind string, orderedMimeTypes []string) error

	Close() error
}
