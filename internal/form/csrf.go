// internal/form/csrf.go
//
// Stateless CSRF tokens.
//
// Context
//   Every JSON form payload carries a `csrf_token` generated at render
//   time.  POSTs must echo it back.  The token is
//
//      base64url( nonce | unixMicro | HMAC_SHA256(key, nonce+unixMicro) )
//
//   •  nonce – 16 random bytes.
//   •  unixMicro – issue time, 8 bytes, big-endian.
//   •  HMAC – keyed with security.csrf_key.
//
//   Verification checks the signature and that the timestamp is within
//   MaxAge.  No server-side state is kept, so any instance can verify a
//   token another one issued.
//
//------------------------------------------------------------------------------

package form

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"time"
)

const (
	// FieldCSRF is the form field carrying the token.
	FieldCSRF = "csrf_token"

	tokenBytes = 16 + 8 + sha256.Size // nonce + ts + sig
	// MaxAge bounds how long a rendered form stays valid.
	MaxAge = 2 * time.Hour
)

// CSRF issues and verifies tokens under one key.
type CSRF struct {
	key []byte
	now func() time.Time
}

// NewCSRF returns a CSRF keyed with key.
func NewCSRF(key []byte) *CSRF {
	return &CSRF{key: key, now: time.Now}
}

// Token creates a new token.  Call once per form render.
func (c *CSRF) Token() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(c.now().UnixMicro()))

	buf := make([]byte, 0, tokenBytes)
	buf = append(buf, nonce...)
	buf = append(buf, ts...)
	buf = append(buf, c.sign(nonce, ts)...)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify reports whether tok passes HMAC and age checks.
func (c *CSRF) Verify(tok string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) != tokenBytes {
		return false
	}
	nonce, ts, sig := raw[:16], raw[16:24], raw[24:]

	issued := time.UnixMicro(int64(binary.BigEndian.Uint64(ts)))
	age := c.now().Sub(issued)
	if age > MaxAge || age < -time.Minute {
		// Older than MaxAge, or from the future beyond clock skew.
		return false
	}
	return hmac.Equal(sig, c.sign(nonce, ts))
}

func (c *CSRF) sign(nonce, ts []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(nonce)
	mac.Write(ts)
	return mac.Sum(nil)
}

// Middleware rejects unsafe requests whose csrf_token field or
// X-CSRF-Token header does not verify.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		tok := r.Header.Get("X-CSRF-Token")
		if tok == "" {
			tok = r.PostFormValue(FieldCSRF)
		}
		if tok == "" || !c.Verify(tok) {
			http.Error(w, "Security token invalid. Please refresh and try again.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
