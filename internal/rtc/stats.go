package rtc

import (
	"context"
	"log/slog"
	"time"
)

// StatsSnapshot is the derived, per-interval view of one session's
// connection quality.
type StatsSnapshot struct {
	Timestamp time.Time

	// Bits per second over the last sampling interval.
	InboundBitrate  uint64
	OutboundBitrate uint64

	// Percentage of packets lost over the last interval, inbound.
	PacketLossPct float64

	RoundTripTime time.Duration
	Path          PathType
}

// SampleStats pulls a raw snapshot from the transport and derives rates
// against the previous sample. With no previous sample, or a zero elapsed
// interval, rate fields are zero rather than an error or a division blowup.
func (s *Session) SampleStats(ctx context.Context) (StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.snapshot, nil
	}

	raw, err := s.transport.GetStats(ctx)
	if err != nil {
		return s.snapshot, err
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now()
	}

	snap := StatsSnapshot{
		Timestamp:     raw.Timestamp,
		RoundTripTime: raw.RoundTripTime,
		Path:          raw.Path,
	}

	if prev := s.lastRaw; prev != nil {
		elapsed := raw.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed > 0 {
			snap.InboundBitrate = bitrate(prev.BytesReceived, raw.BytesReceived, elapsed)
			snap.OutboundBitrate = bitrate(prev.BytesSent, raw.BytesSent, elapsed)
			snap.PacketLossPct = lossPct(prev, raw)
		}
	}

	s.lastRaw = &raw
	s.snapshot = snap
	return snap, nil
}

// Stats returns the most recent derived snapshot.
func (s *Session) Stats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func bitrate(prevBytes, curBytes uint64, elapsedSeconds float64) uint64 {
	if curBytes < prevBytes {
		// Counter reset on renegotiation; skip this interval.
		return 0
	}
	return uint64(float64(curBytes-prevBytes) * 8 / elapsedSeconds)
}

func lossPct(prev *RawStats, cur RawStats) float64 {
	if cur.PacketsLost < prev.PacketsLost || cur.PacketsReceived < prev.PacketsReceived {
		return 0
	}
	lost := cur.PacketsLost - prev.PacketsLost
	received := cur.PacketsReceived - prev.PacketsReceived
	total := lost + received
	if total == 0 {
		return 0
	}
	return float64(lost) / float64(total) * 100
}

// Monitor samples every active session at a fixed interval and reports each
// snapshot to the listener.
type Monitor struct {
	interval time.Duration
	sessions func() []*Session
	onSample func(remoteID string, snap StatsSnapshot)
	log      *slog.Logger
}

// NewMonitor builds a monitor. sessions supplies the current session set on
// each tick; onSample may be nil.
func NewMonitor(interval time.Duration, sessions func() []*Session, onSample func(remoteID string, snap StatsSnapshot), log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		interval: interval,
		sessions: sessions,
		onSample: onSample,
		log:      log,
	}
}

// Run samples until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range m.sessions() {
				snap, err := sess.SampleStats(ctx)
				if err != nil {
					m.log.Debug("stats sample failed", "remote", sess.RemoteID(), "err", err)
					continue
				}
				if m.onSample != nil {
					m.onSample(sess.RemoteID(), snap)
				}
			}
		}
	}
}
