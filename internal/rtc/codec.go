package rtc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pion/sdp/v3"
)

// videoCodecPreference orders video codecs most-modern first, down to the
// most compatible baseline.
var videoCodecPreference = []string{"AV1", "H265", "VP9", "VP8", "H264"}

// PreferredVideoCodecs returns the preferred codec order as MIME types, the
// form consumed by transports with a structured preference API.
func PreferredVideoCodecs() []string {
	mimes := make([]string, len(videoCodecPreference))
	for i, name := range videoCodecPreference {
		mimes[i] = "video/" + name
	}
	return mimes
}

func codecRank(name string) int {
	upper := strings.ToUpper(name)
	for i, preferred := range videoCodecPreference {
		if upper == preferred {
			return i
		}
	}
	return len(videoCodecPreference)
}

// ReorderVideoCodecs rewrites the codec order of every video media section
// in an SDP blob to match the preference list. It is the textual fallback
// for transports without a structured preference API; both paths satisfy
// the same contract.
func ReorderVideoCodecs(raw string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	changed := false
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "video" {
			continue
		}
		codecByPayload := rtpmapCodecs(media)
		formats := media.MediaName.Formats
		sort.SliceStable(formats, func(i, j int) bool {
			return codecRank(codecByPayload[formats[i]]) < codecRank(codecByPayload[formats[j]])
		})
		changed = true
	}
	if !changed {
		return raw, nil
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}

// rtpmapCodecs maps payload type to codec name from a media section's
// rtpmap attributes ("96 VP8/90000" -> {"96": "VP8"}).
func rtpmapCodecs(media *sdp.MediaDescription) map[string]string {
	codecs := make(map[string]string)
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		name, _, _ := strings.Cut(parts[1], "/")
		codecs[parts[0]] = name
	}
	return codecs
}

// preferCodecsLocked applies the codec preference through the structured
// transport API once per session. If the transport lacks the capability the
// session falls back to rewriting descriptions textually; the returned flag
// says whether that fallback is in effect.
func (s *Session) preferCodecsLocked() bool {
	if s.codecPrefDone {
		return s.mungeSDP
	}
	s.codecPrefDone = true

	err := s.transport.SetCodecPreferences(KindVideo, PreferredVideoCodecs())
	switch {
	case errors.Is(err, ErrUnsupported):
		s.mungeSDP = true
	case err != nil:
		s.log.Warn("set codec preferences failed", "err", err)
	}
	return s.mungeSDP
}

// applyCodecFallbackLocked rewrites the description text when the structured
// preference path is unavailable. A failed rewrite keeps the original
// description; codec order is a preference, not a requirement.
func (s *Session) applyCodecFallbackLocked(desc *Description) {
	reordered, err := ReorderVideoCodecs(desc.SDP)
	if err != nil {
		s.log.Warn("codec reorder fallback failed", "err", err)
		return
	}
	desc.SDP = reordered
}
