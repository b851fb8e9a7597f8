package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeTransport records every contract call and lets tests drive the
// asynchronous callbacks by hand.
type fakeTransport struct {
	mu sync.Mutex
	cb Callbacks

	offerSDP    string
	offers      int
	answers     int
	rollbacks   int
	remoteDescs []Description
	candidates  []Candidate

	failReplace bool
	handles     []*fakeHandle

	supportsSenderParams bool
	senderParams         []SenderParameters

	supportsCodecPrefs bool
	codecPrefs         []string

	stats    RawStats
	statsErr error

	channels []*fakeDataChannel
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeTransport) callbacks() Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeTransport) PrepareOffer(ctx context.Context) (Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	sdp := f.offerSDP
	if sdp == "" {
		sdp = fmt.Sprintf("v=0 offer-%d", f.offers)
	}
	return Description{Type: "offer", SDP: sdp}, nil
}

func (f *fakeTransport) PrepareAnswer(ctx context.Context, remote Description) (Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, remote)
	f.answers++
	return Description{Type: "answer", SDP: fmt.Sprintf("v=0 answer-%d", f.answers)}, nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, remote Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, remote)
	return nil
}

func (f *fakeTransport) Rollback(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

func (f *fakeTransport) AddICECandidate(c Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AddTrack(t LocalTrack) (TrackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{transport: f, kind: t.Kind(), track: t}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc := &fakeDataChannel{label: label, open: true}
	f.channels = append(f.channels, dc)
	return dc, nil
}

func (f *fakeTransport) GetStats(ctx context.Context) (RawStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

func (f *fakeTransport) SetSenderParameters(kind string, p SenderParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.supportsSenderParams {
		return ErrUnsupported
	}
	f.senderParams = append(f.senderParams, p)
	return nil
}

func (f *fakeTransport) SetCodecPreferences(kind string, orderedMimeTypes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.supportsCodecPrefs {
		return ErrUnsupported
	}
	f.codecPrefs = append([]string(nil), orderedMimeTypes...)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeTransport) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers
}

func (f *fakeTransport) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) setStats(s RawStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = s
}

type fakeHandle struct {
	transport *fakeTransport
	kind      string

	mu       sync.Mutex
	track    LocalTrack
	replaced int
	removed  bool
}

func (h *fakeHandle) Kind() string { return h.kind }

func (h *fakeHandle) Replace(t LocalTrack) error {
	h.transport.mu.Lock()
	fail := h.transport.failReplace
	h.transport.mu.Unlock()
	if fail {
		return errors.New("replace not supported")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.track = t
	h.replaced++
	return nil
}

func (h *fakeHandle) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
	return nil
}

func (h *fakeHandle) replaceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replaced
}

type fakeDataChannel struct {
	label string

	mu     sync.Mutex
	open   bool
	sent   [][]byte
	onMsg  func([]byte)
	closed bool
}

func (c *fakeDataChannel) Label() string { return c.label }

func (c *fakeDataChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *fakeDataChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeDataChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

func (c *fakeDataChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeDataChannel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (c *fakeDataChannel) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeLocalTrack struct {
	id   string
	kind string
}

func (t fakeLocalTrack) ID() string   { return t.id }
func (t fakeLocalTrack) Kind() string { return t.kind }

// sentSignal is one payload captured by a recording SendFunc.
type sentSignal struct {
	Kind    string
	Payload any
}

// signalRecorder captures outbound signaling payloads.
type signalRecorder struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (r *signalRecorder) send(kind string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSignal{Kind: kind, Payload: payload})
	return nil
}

func (r *signalRecorder) byKind(kind string) []sentSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentSignal
	for _, s := range r.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testDebounce = 10 * time.Millisecond

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
