package rtc

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestStatsDerivesRatesFromConsecutiveSamples(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	s := newTestSession("alice", "bob", tr, &signalRecorder{})

	base := time.Now()
	tr.setStats(RawStats{
		Timestamp:       base,
		BytesSent:       1000,
		BytesReceived:   2000,
		PacketsSent:     10,
		PacketsReceived: 20,
		Path:            PathDirect,
	})
	first, err := s.SampleStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// No previous sample: rates are zero, never an error.
	if first.InboundBitrate != 0 || first.OutboundBitrate != 0 || first.PacketLossPct != 0 {
		t.Fatalf("first sample rates %+v, want zeros", first)
	}
	if first.Path != PathDirect {
		t.Fatalf("path %q", first.Path)
	}

	tr.setStats(RawStats{
		Timestamp:       base.Add(time.Second),
		BytesSent:       2000,          // +1000 bytes = 8000 bits/s
		BytesReceived:   4500,          // +2500 bytes = 20000 bits/s
		PacketsSent:     20,
		PacketsReceived: 95,            // +75
		PacketsLost:     25,            // +25 of 100 = 25%
		RoundTripTime:   40 * time.Millisecond,
		Path:            PathRelayed,
	})
	second, err := s.SampleStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.OutboundBitrate != 8000 {
		t.Fatalf("outbound bitrate %d, want 8000", second.OutboundBitrate)
	}
	if second.InboundBitrate != 20000 {
		t.Fatalf("inbound bitrate %d, want 20000", second.InboundBitrate)
	}
	if math.Abs(second.PacketLossPct-25) > 1e-9 {
		t.Fatalf("loss pct %f, want 25", second.PacketLossPct)
	}
	if second.RoundTripTime != 40*time.Millisecond || second.Path != PathRelayed {
		t.Fatalf("rtt/path %+v", second)
	}
}

func TestStatsIdleConnectionReportsZeroNotNegative(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	s := newTestSession("alice", "bob", tr, &signalRecorder{})

	base := time.Now()
	raw := RawStats{Timestamp: base, BytesSent: 5000, BytesReceived: 5000, PacketsReceived: 50}
	tr.setStats(raw)
	if _, err := s.SampleStats(ctx); err != nil {
		t.Fatal(err)
	}

	// Two more intervals with no traffic at all.
	for i := 1; i <= 2; i++ {
		raw.Timestamp = base.Add(time.Duration(i) * time.Second)
		tr.setStats(raw)
		snap, err := s.SampleStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap.InboundBitrate != 0 || snap.OutboundBitrate != 0 {
			t.Fatalf("idle interval %d reported bitrate %+v, want 0", i, snap)
		}
		if snap.PacketLossPct != 0 || math.IsNaN(snap.PacketLossPct) {
			t.Fatalf("idle loss pct %f", snap.PacketLossPct)
		}
	}
}

func TestStatsCounterResetSkipsInterval(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	s := newTestSession("alice", "bob", tr, &signalRecorder{})

	base := time.Now()
	tr.setStats(RawStats{Timestamp: base, BytesSent: 9000, BytesReceived: 9000})
	if _, err := s.SampleStats(ctx); err != nil {
		t.Fatal(err)
	}

	// Counters went backwards (transport reset on renegotiation).
	tr.setStats(RawStats{Timestamp: base.Add(time.Second), BytesSent: 100, BytesReceived: 100})
	snap, err := s.SampleStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.InboundBitrate != 0 || snap.OutboundBitrate != 0 {
		t.Fatalf("reset interval rates %+v, want zeros", snap)
	}
}

func TestStatsZeroElapsedGuard(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	s := newTestSession("alice", "bob", tr, &signalRecorder{})

	ts := time.Now()
	tr.setStats(RawStats{Timestamp: ts, BytesSent: 100})
	if _, err := s.SampleStats(ctx); err != nil {
		t.Fatal(err)
	}
	tr.setStats(RawStats{Timestamp: ts, BytesSent: 10100})
	snap, err := s.SampleStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.OutboundBitrate != 0 {
		t.Fatalf("zero elapsed produced bitrate %d", snap.OutboundBitrate)
	}
}

func TestMonitorSamplesEverySession(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSession("alice", "bob", tr, &signalRecorder{})
	tr.setStats(RawStats{Timestamp: time.Now(), Path: PathReflexive})

	samples := make(chan string, 16)
	m := NewMonitor(5*time.Millisecond,
		func() []*Session { return []*Session{s} },
		func(remoteID string, snap StatsSnapshot) { samples <- remoteID },
		discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case remote := <-samples:
		if remote != "bob" {
			t.Fatalf("sample for %q", remote)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never sampled")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on cancel")
	}

	if s.Stats().Path != PathReflexive {
		t.Fatalf("stored snapshot path %q", s.Stats().Path)
	}
}
