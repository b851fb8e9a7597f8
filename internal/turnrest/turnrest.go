// Package turnrest mints coturn-compatible ephemeral TURN credentials.
//
// The scheme is the TURN REST API draft as implemented by coturn:
//
//	username   = <unix_expiry>:<realm_prefix>:<user_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Credentials are derived per request, never stored, and expire on their own.
// The shared secret is the only long-lived piece and stays on the relay and
// the TURN server.
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Minter derives short-lived TURN credentials from a shared secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// Config for NewMinter. Now is overridable for tests and defaults to
// time.Now.
type Config struct {
	Secret string
	TTL    time.Duration
	Prefix string
	Now    func() time.Time
}

// Credentials is one minted username/credential pair, valid until Expiry.
type Credentials struct {
	Username   string
	Credential string
	Expiry     time.Time
}

func NewMinter(cfg Config) (*Minter, error) {
	if cfg.Secret == "" {
		return nil, errors.New("turnrest: secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: ttl must be positive")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("turnrest: prefix is required")
	}
	if strings.ContainsRune(cfg.Prefix, ':') {
		return nil, errors.New("turnrest: prefix must not contain ':'")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Minter{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		now:    now,
	}, nil
}

// Mint derives credentials tied to userID. The colon is the field separator
// of the username format, so userID must not contain one.
func (m *Minter) Mint(userID string) (Credentials, error) {
	if userID == "" {
		return Credentials{}, errors.New("turnrest: userID is required")
	}
	if strings.ContainsRune(userID, ':') {
		return Credentials{}, errors.New("turnrest: userID must not contain ':'")
	}
	expiry := m.now().UTC().Add(m.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiry.Unix(), m.prefix, userID)

	mac := hmac.New(sha1.New, m.secret)
	mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expiry:     expiry,
	}, nil
}

// MintAnonymous derives credentials for a caller with no stable identity,
// using a random token in place of the user ID.
func (m *Minter) MintAnonymous() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return m.Mint(hex.EncodeToString(b[:]))
}
