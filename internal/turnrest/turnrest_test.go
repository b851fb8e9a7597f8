package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func testMinter(t *testing.T) *Minter {
	t.Helper()
	m, err := NewMinter(Config{
		Secret: "shhh",
		TTL:    time.Hour,
		Prefix: "huddle",
		Now:    fixedNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMintProducesCoturnUsernameFormat(t *testing.T) {
	m := testMinter(t)

	creds, err := m.Mint("user-abc")
	if err != nil {
		t.Fatal(err)
	}

	wantExpiry := fixedNow().Add(time.Hour)
	wantUsername := "1772370000:huddle:user-abc"
	if creds.Username != wantUsername {
		t.Fatalf("username %q, want %q", creds.Username, wantUsername)
	}
	if !creds.Expiry.Equal(wantExpiry) {
		t.Fatalf("expiry %v, want %v", creds.Expiry, wantExpiry)
	}

	mac := hmac.New(sha1.New, []byte("shhh"))
	mac.Write([]byte(wantUsername))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); creds.Credential != want {
		t.Fatalf("credential %q, want %q", creds.Credential, want)
	}
}

func TestMintRejectsColonInUserID(t *testing.T) {
	m := testMinter(t)
	if _, err := m.Mint("a:b"); err == nil {
		t.Fatal("colon in user ID must be rejected")
	}
	if _, err := m.Mint(""); err == nil {
		t.Fatal("empty user ID must be rejected")
	}
}

func TestMintAnonymousUsesRandomToken(t *testing.T) {
	m := testMinter(t)

	a, err := m.MintAnonymous()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.MintAnonymous()
	if err != nil {
		t.Fatal(err)
	}
	if a.Username == b.Username {
		t.Fatal("anonymous usernames must be distinct")
	}
	if !strings.HasPrefix(a.Username, "1772370000:huddle:") {
		t.Fatalf("username %q lacks expiry and prefix", a.Username)
	}
}

func TestNewMinterValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing secret", Config{TTL: time.Hour, Prefix: "huddle"}},
		{"zero ttl", Config{Secret: "s", Prefix: "huddle"}},
		{"missing prefix", Config{Secret: "s", TTL: time.Hour}},
		{"colon in prefix", Config{Secret: "s", TTL: time.Hour, Prefix: "a:b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMinter(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
