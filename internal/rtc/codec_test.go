package rtc

import (
	"context"
	"strings"
	"testing"
)

const testSDP = "v=0\r\n" +
	"o=- 123 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97 98 99\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=rtpmap:97 VP8/90000\r\n" +
	"a=rtpmap:98 VP9/90000\r\n" +
	"a=rtpmap:99 AV1/90000\r\n"

func TestReorderVideoCodecsPrefersModernCodecs(t *testing.T) {
	out, err := ReorderVideoCodecs(testSDP)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "m=video 9 UDP/TLS/RTP/SAVPF 99 98 97 96") {
		t.Fatalf("video formats not reordered:\n%s", out)
	}
	if !strings.Contains(out, "m=audio 9 UDP/TLS/RTP/SAVPF 111") {
		t.Fatalf("audio section disturbed:\n%s", out)
	}
}

func TestReorderVideoCodecsKeepsUnknownPayloadsLast(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 123 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 100 96 97\r\n" +
		"a=rtpmap:100 rtx/90000\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=rtpmap:97 VP9/90000\r\n"
	out, err := ReorderVideoCodecs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "m=video 9 UDP/TLS/RTP/SAVPF 97 96 100") {
		t.Fatalf("unexpected order:\n%s", out)
	}
}

func TestReorderVideoCodecsRejectsGarbage(t *testing.T) {
	if _, err := ReorderVideoCodecs("not an sdp"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReorderVideoCodecsNoVideoSectionIsIdentity(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 123 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
	out, err := ReorderVideoCodecs(raw)
	if err != nil {
		t.Fatal(err)
	}
	if out != raw {
		t.Fatal("audio-only description should be returned untouched")
	}
}

func TestStructuredCodecPreferenceSkipsTextualFallback(t *testing.T) {
	tr := newFakeTransport()
	tr.supportsCodecPrefs = true
	tr.offerSDP = testSDP
	rec := &signalRecorder{}
	s := newTestSession("alice", "bob", tr, rec)

	if err := s.StartOffer(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.mu.Lock()
	prefs := tr.codecPrefs
	tr.mu.Unlock()
	want := PreferredVideoCodecs()
	if len(prefs) != len(want) || prefs[0] != "video/AV1" || prefs[len(prefs)-1] != "video/H264" {
		t.Fatalf("structured preferences %v", prefs)
	}

	sent := rec.byKind("offer")[0].Payload.(Description)
	if sent.SDP != testSDP {
		t.Fatal("offer text rewritten despite structured preference support")
	}
}

func TestCodecFallbackRewritesOfferText(t *testing.T) {
	tr := newFakeTransport() // supportsCodecPrefs = false
	tr.offerSDP = testSDP
	rec := &signalRecorder{}
	s := newTestSession("alice", "bob", tr, rec)

	if err := s.StartOffer(context.Background()); err != nil {
		t.Fatal(err)
	}

	sent := rec.byKind("offer")[0].Payload.(Description)
	if !strings.Contains(sent.SDP, "m=video 9 UDP/TLS/RTP/SAVPF 99 98 97 96") {
		t.Fatalf("fallback did not rewrite codec order:\n%s", sent.SDP)
	}
}
