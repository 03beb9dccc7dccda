// Package joinlink signs and verifies deep-link join credentials. A credential
// is self-contained: nonce, unix expiry, and a truncated MAC over both plus
// the session id, so validity needs no server-side state.
package joinlink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// sigHexLen truncates the MAC to 16 bytes to keep links short. Acceptable
// given the short credential lifetime.
const sigHexLen = 32

// Signer holds the server signing key. The key is injected, never global, so
// it can be rotated and tests can use distinct keys.
type Signer struct {
	key  []byte
	nowF func() time.Time
}

// NewSigner returns a Signer using the given key material.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key, nowF: func() time.Time { return time.Now().UTC() }}
}

// Sign returns a credential of the form "nonce.expiry.signature" bound to the
// session id.
func (s *Signer) Sign(sessionID, nonce string, expiresAt time.Time) string {
	ts := expiresAt.Unix()
	return nonce + "." + strconv.FormatInt(ts, 10) + "." + s.mac(sessionID, nonce, ts)
}

// Verify reports whether the credential is well-formed, unexpired, and carries
// a matching signature for the session. All failure modes collapse to false;
// callers must not leak which check failed.
func (s *Signer) Verify(sessionID, credential string) bool {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return false
	}
	nonce, tsStr, sig := parts[0], parts[1], parts[2]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}
	if s.nowF().Unix() >= ts {
		return false
	}
	expected := s.mac(sessionID, nonce, ts)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (s *Signer) mac(sessionID, nonce string, ts int64) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(sessionID + ":" + nonce + ":" + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(h.Sum(nil))[:sigHexLen]
}
