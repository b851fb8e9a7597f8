package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// NewPionAPI builds the shared pion API with default codecs and pion's
// internal logging routed into slog.
func NewPionAPI(log *slog.Logger) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = slogWriter{log: log}

	se := webrtc.SettingEngine{LoggerFactory: factory}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
	), nil
}

// slogWriter adapts pion's line-oriented log output onto slog at debug
// level.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Debug("pion", "msg", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// PionLocalTrack adapts a pion local track to the LocalTrack contract.
type PionLocalTrack struct {
	Track webrtc.TrackLocal
}

func (t PionLocalTrack) ID() string   { return t.Track.ID() }
func (t PionLocalTrack) Kind() string { return t.Track.Kind().String() }

// PionTransport implements Transport over a pion PeerConnection.
type PionTransport struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu sync.Mutex
	cb Callbacks
}

// NewPionTransport builds a PeerConnection from the shared API and wires the
// pion event handlers into the Callbacks contract.
func NewPionTransport(api *webrtc.API, iceServers []webrtc.ICEServer, log *slog.Logger) (*PionTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &PionTransport{pc: pc, log: log}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if cb := t.callbacks().OnLocalCandidate; cb != nil {
			cb(Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		if cb := t.callbacks().OnConnectionState; cb != nil {
			cb(mapConnectionState(st))
		}
	})
	pc.OnNegotiationNeeded(func() {
		if cb := t.callbacks().OnNegotiationNeeded; cb != nil {
			cb()
		}
	})
	pc.OnSignalingStateChange(func(st webrtc.SignalingState) {
		if st != webrtc.SignalingStateStable {
			return
		}
		if cb := t.callbacks().OnSignalingStable; cb != nil {
			cb()
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if cb := t.callbacks().OnRemoteTrack; cb != nil {
			cb(track.Kind().String(), track.ID())
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if cb := t.callbacks().OnDataChannel; cb != nil {
			cb(newPionDataChannel(dc))
		}
	})

	return t, nil
}

func (t *PionTransport) SetCallbacks(cb Callbacks) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

func (t *PionTransport) callbacks() Callbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cb
}

func (t *PionTransport) PrepareOffer(ctx context.Context) (Description, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return Description{}, fmt.Errorf("set local offer: %w", err)
	}
	return Description{Type: "offer", SDP: offer.SDP}, nil
}

func (t *PionTransport) PrepareAnswer(ctx context.Context, remote Description) (Description, error) {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remote.SDP,
	})
	if err != nil {
		return Description{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return Description{}, fmt.Errorf("set local answer: %w", err)
	}
	return Description{Type: "answer", SDP: answer.SDP}, nil
}

func (t *PionTransport) SetRemoteDescription(ctx context.Context, remote Description) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remote.SDP,
	})
}

func (t *PionTransport) Rollback(ctx context.Context) error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *PionTransport) AddICECandidate(c Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (t *PionTransport) AddTrack(lt LocalTrack) (TrackHandle, error) {
	pt, ok := lt.(PionLocalTrack)
	if !ok {
		return nil, fmt.Errorf("track %T is not a pion track", lt)
	}
	sender, err := t.pc.AddTrack(pt.Track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return &pionTrackHandle{pc: t.pc, sender: sender, kind: pt.Kind()}, nil
}

func (t *PionTransport) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return newPionDataChannel(dc), nil
}

func (t *PionTransport) GetStats(ctx context.Context) (RawStats, error) {
	report := t.pc.GetStats()

	raw := RawStats{Timestamp: time.Now(), Path: PathUnknown}
	var nominatedLocalID string
	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.InboundRTPStreamStats:
			raw.BytesReceived += stat.BytesReceived
			raw.PacketsReceived += uint64(stat.PacketsReceived)
			if stat.PacketsLost > 0 {
				raw.PacketsLost += uint64(stat.PacketsLost)
			}
		case webrtc.OutboundRTPStreamStats:
			raw.BytesSent += stat.BytesSent
			raw.PacketsSent += uint64(stat.PacketsSent)
		case webrtc.ICECandidatePairStats:
			if stat.State == webrtc.StatsICECandidatePairStateSucceeded && stat.Nominated {
				raw.RoundTripTime = time.Duration(stat.CurrentRoundTripTime * float64(time.Second))
				nominatedLocalID = stat.LocalCandidateID
			}
		}
	}
	if nominatedLocalID != "" {
		if s, ok := report[nominatedLocalID]; ok {
			if cand, ok := s.(webrtc.ICECandidateStats); ok {
				raw.Path = mapCandidateType(cand.CandidateType)
			}
		}
	}
	return raw, nil
}

// SetSenderParameters is unsupported: pion exposes no encoder parameter
// control on RTP senders, so quality steering is skipped on this transport.
func (t *PionTransport) SetSenderParameters(kind string, p SenderParameters) error {
	return ErrUnsupported
}

// SetCodecPreferences is unsupported: pion's preference API needs full codec
// parameter sets per transceiver, which this contract does not carry. The
// session falls back to textual reordering of the description.
func (t *PionTransport) SetCodecPreferences(kind string, orderedMimeTypes []string) error {
	return ErrUnsupported
}

func (t *PionTransport) Close() error {
	return t.pc.Close()
}

type pionTrackHandle struct {
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	kind   string
}

func (h *pionTrackHandle) Kind() string { return h.kind }

func (h *pionTrackHandle) Replace(lt LocalTrack) error {
	pt, ok := lt.(PionLocalTrack)
	if !ok {
		return fmt.Errorf("track %T is not a pion track", lt)
	}
	return h.sender.ReplaceTrack(pt.Track)
}

func (h *pionTrackHandle) Remove() error {
	return h.pc.RemoveTrack(h.sender)
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func newPionDataChannel(dc *webrtc.DataChannel) *pionDataChannel {
	return &pionDataChannel{dc: dc}
}

func (c *pionDataChannel) Label() string { return c.dc.Label() }

func (c *pionDataChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionDataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *pionDataChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (c *pionDataChannel) Close() error {
	return c.dc.Close()
}

func mapConnectionState(st webrtc.PeerConnectionState) ConnectionState {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionClosed
	}
	return ConnectionNew
}

func mapCandidateType(ct webrtc.ICECandidateType) PathType {
	switch ct {
	case webrtc.ICECandidateTypeHost:
		return PathDirect
	case webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
		return PathReflexive
	case webrtc.ICECandidateTypeRelay:
		return PathRelayed
	}
	return PathUnknown
}
