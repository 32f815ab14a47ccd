package session

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/treehole/internal/auth"
)

var key = []byte("0123456789abcdef0123456789abcdef")

func TestIssueParse(t *testing.T) {
	m := New(key, time.Hour)

	tok, err := m.Issue(42)
	require.NoError(t, err)
	id, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = New([]byte("another key, also 32 bytes long!"), time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpired(t *testing.T) {
	m := New(key, time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.Itoa(7),
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}}).SignedString(key)
	require.NoError(t, err)

	_, err = m.Parse(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestMiddleware(t *testing.T) {
	m := New(key, time.Hour)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.UserID(r.Context()); ok {
			_, _ = w.Write([]byte(strconv.FormatInt(id, 10)))
			return
		}
		_, _ = w.Write([]byte("anon"))
	}))

	// Round trip through Set.
	rec := httptest.NewRecorder()
	require.NoError(t, m.Set(rec, httptest.NewRequest(http.MethodGet, "/", nil), 42))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "42", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "anon", rec.Body.String())

	rec = httptest.NewRecorder()
	m.Clear(rec)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}
