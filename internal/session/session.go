// internal/session/session.go
//
// Signed session cookie.
//
// Context
// -------
// Owners log in through an external identity service that shares the
// session key.  treehole only verifies the cookie it left behind: an
// HS256 JWT named "treehole_session" whose claims carry the user id.
// The cookie is scoped to the parent domain so one login covers every
// site subdomain.
//
// Workflow
// --------
//   - Issue(userID)   → signed token, used by the login service and tests.
//   - Set / Clear     → write or expire the cookie.
//   - Middleware      → verifies the cookie and calls auth.WithUser.
package session

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yanizio/treehole/internal/auth"
	"github.com/yanizio/treehole/internal/logger"
)

// CookieName is the session cookie.
const CookieName = "treehole_session"

var (
	// ErrInvalidToken covers malformed, forged, and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken is returned for a token past its expiry.
	ErrExpiredToken = errors.New("session token expired")
)

// Claims are the JWT claims of a session.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues and verifies session tokens.
type Manager struct {
	key []byte
	ttl time.Duration
	// Domain is the cookie domain, e.g. ".treehole.example".  Empty keeps
	// the cookie host-only.
	Domain string
}

// New returns a Manager signing with key.
func New(key []byte, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Manager{key: key, ttl: ttl}
}

// Issue signs a token for userID.
func (m *Manager) Issue(userID int64) (string, error) {
	now := time.Now().UTC()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Parse verifies tok and returns its user id.
func (m *Manager) Parse(tok string) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, ErrInvalidToken
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Set writes a session cookie for userID.
func (m *Manager) Set(w http.ResponseWriter, r *http.Request, userID int64) error {
	tok, err := m.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		Domain:   m.Domain,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl.Seconds()),
	})
	return nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.Domain,
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// Middleware attaches the cookie's user id to the request context.  A
// missing or invalid cookie leaves the request anonymous.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Parse(c.Value)
		if err != nil {
			logger.FromContext(r.Context()).Debugw("session cookie rejected", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.WithUser(r.Context(), id)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With("user", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
