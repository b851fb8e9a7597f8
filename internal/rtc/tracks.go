package rtc

// SyncTracks reconciles the session's outbound tracks with the local capture
// state, one track per media kind.
//
// A kind without a handle is added, which requires a subsequent negotiation
// cycle. A kind with a handle gets its underlying track replaced in place:
// replacement keeps the signaling state untouched and is always preferred
// over a disruptive remove-and-add. Only when replacement fails does the
// session fall back to remove-and-add, which again needs renegotiation.
func (s *Session) SyncTracks(locals map[string]LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	needReneg := false
	for kind, track := range locals {
		handle, ok := s.tracks[kind]
		if !ok {
			h, err := s.transport.AddTrack(track)
			if err != nil {
				s.log.Error("add track failed", "kind", kind, "err", err)
				continue
			}
			s.tracks[kind] = h
			needReneg = true
			continue
		}

		replaceErr := handle.Replace(track)
		if replaceErr == nil {
			continue
		}
		s.log.Warn("track replace failed, falling back to remove-and-add", "kind", kind, "err", replaceErr)

		if err := handle.Remove(); err != nil {
			s.log.Warn("track remove failed", "kind", kind, "err", err)
		}
		delete(s.tracks, kind)
		h, err := s.transport.AddTrack(track)
		if err != nil {
			s.log.Error("re-add track failed", "kind", kind, "err", err)
			continue
		}
		s.tracks[kind] = h
		needReneg = true
	}

	if needReneg {
		s.requestRenegotiationLocked()
	}
}

// TrackKinds lists the media kinds with a live outbound handle.
func (s *Session) TrackKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.tracks))
	for k := range s.tracks {
		kinds = append(kinds, k)
	}
	return kinds
}
