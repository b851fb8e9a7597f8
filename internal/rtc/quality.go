package rtc

import "errors"

// Encoder content hints and degradation preferences, as understood by
// transports that support sender parameters.
const (
	ContentHintDetail = "detail"
	ContentHintMotion = "motion"

	DegradationMaintainResolution = "maintain-resolution"
	DegradationBalanced           = "balanced"
)

// QualityPolicy captures the local encoding-quality goal for a session's
// outbound video. Width, Height and FrameRate describe the current capture
// settings and drive the bitrate cap.
type QualityPolicy struct {
	// MaintainResolution favors sharpness: the encoder drops frame rate
	// rather than downscaling under bandwidth pressure.
	MaintainResolution bool

	Width     int
	Height    int
	FrameRate int
}

// defaultMaxBitrate is the floor applied below the 720p tier.
const defaultMaxBitrate = 8_000_000

// MaxBitrateForVideo computes the encoder bitrate cap as a step function of
// resolution and frame rate. 4K at high frame rates is allowed to burn real
// bandwidth; everything below 720p gets the floor.
func MaxBitrateForVideo(width, height, fps int) uint64 {
	highFPS := fps >= 50
	switch {
	case width >= 3840 || height >= 2160:
		if highFPS {
			return 200_000_000
		}
		return 100_000_000
	case width >= 2560 || height >= 1440:
		if highFPS {
			return 60_000_000
		}
		return 40_000_000
	case width >= 1920 || height >= 1080:
		if highFPS {
			return 25_000_000
		}
		return 15_000_000
	case width >= 1280 || height >= 720:
		if highFPS {
			return 12_000_000
		}
		return defaultMaxBitrate
	default:
		return defaultMaxBitrate
	}
}

// senderParameters translates the policy into transport parameters.
func (p QualityPolicy) senderParameters() SenderParameters {
	sp := SenderParameters{
		MaxBitrate: MaxBitrateForVideo(p.Width, p.Height, p.FrameRate),
	}
	if p.MaintainResolution {
		sp.ContentHint = ContentHintDetail
		sp.DegradationPreference = DegradationMaintainResolution
	} else {
		sp.ContentHint = ContentHintMotion
		sp.DegradationPreference = DegradationBalanced
	}
	return sp
}

// ApplyQualityPolicy stores the policy on the session and pushes it to the
// transport. The stored policy is reapplied after every completed
// negotiation, since some transports reset sender parameters on
// renegotiation.
func (s *Session) ApplyQualityPolicy(p QualityPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.quality = &p
	return s.applyQualityLocked()
}

func (s *Session) applyQualityLocked() error {
	if s.quality == nil {
		return nil
	}
	err := s.transport.SetSenderParameters(KindVideo, s.quality.senderParameters())
	if errors.Is(err, ErrUnsupported) {
		// Optional capability; transports without it are left alone.
		return nil
	}
	if err != nil {
		s.log.Warn("apply sender parameters failed", "err", err)
	}
	return err
}

func (s *Session) reapplyQualityLocked() {
	_ = s.applyQualityLocked()
}
