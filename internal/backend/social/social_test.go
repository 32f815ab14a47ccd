package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/treehole/internal/backend"
)

// remote fakes the social network.  The valid captcha answer is "42";
// tokens marked expired get a 401.
type remote struct {
	mu       sync.Mutex
	logins   int
	posts    []string
	tokenSeq int
	expired  map[string]bool
	password string
}

func newRemote(t *testing.T) (*remote, *httptest.Server) {
	r := &remote{expired: map[string]bool{}, password: "pw"}
	mux := http.NewServeMux()
	mux.HandleFunc("/captcha", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "k1", "image": "http://img/k1"})
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.logins++
		if req.FormValue("captcha") != "42" || req.FormValue("password") != r.password {
			http.Error(w, "bad login", http.StatusForbidden)
			return
		}
		r.tokenSeq++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "t" + string(rune('0'+r.tokenSeq))})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		tok := req.Header.Get("Authorization")
		if tok == "" || r.expired[tok] {
			http.Error(w, "login again", http.StatusUnauthorized)
			return
		}
		if req.FormValue("status") == "forbidden" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		r.posts = append(r.posts, req.FormValue("status"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "p" + string(rune('0'+len(r.posts)))})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *remote) expire(token string) {
	r.mu.Lock()
	r.expired["Bearer "+token] = true
	r.mu.Unlock()
}

func open(t *testing.T, srv *httptest.Server, sessions SessionStore) *backend.Instance {
	t.Helper()
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(Kind(Deps{Sessions: sessions, HTTP: srv.Client()})))
	params, _ := json.Marshal(Params{Username: "u", Password: "pw", BaseURL: srv.URL + "/"})
	inst, err := reg.Open(backend.Record{ID: 9, Kind: Key, Params: params})
	require.NoError(t, err)
	return inst
}

var captcha = url.Values{InputCaptchaKey: {"k1"}, InputCaptcha: {"42"}}

func TestHandshake(t *testing.T) {
	r, srv := newRemote(t)
	sessions := NewMemorySessions(8, time.Hour)
	inst := open(t, srv, sessions)
	g := backend.NewGateway(5 * time.Second)
	ctx := context.Background()

	// No session: captcha requested.
	res := g.Publish(ctx, inst, "hello", nil)
	require.Equal(t, backend.OutcomeNeedsInput, res.Outcome)
	require.Len(t, res.Forms, 1)
	assert.Equal(t, "http://img/k1", res.Forms[0].Image)
	assert.Empty(t, res.Forms[0].Error)

	// Wrong answer: captcha again, with an error.
	res = g.Publish(ctx, inst, "hello", url.Values{InputCaptchaKey: {"k1"}, InputCaptcha: {"7"}})
	require.Equal(t, backend.OutcomeNeedsInput, res.Outcome)
	assert.NotEmpty(t, res.Forms[0].Error)

	// Right answer: published and session cached.
	res = g.Publish(ctx, inst, "hello", captcha)
	require.Equal(t, backend.OutcomePublished, res.Outcome)
	assert.Equal(t, "p1", res.Receipt)

	// Cached session: no login needed.
	res = g.Publish(ctx, inst, "again", nil)
	require.Equal(t, backend.OutcomePublished, res.Outcome)
	assert.Equal(t, 2, r.logins)
	assert.Equal(t, []string{"hello", "again"}, r.posts)
}

func TestStaleSessionForcesOneRefresh(t *testing.T) {
	r, srv := newRemote(t)
	sessions := NewMemorySessions(8, time.Hour)
	inst := open(t, srv, sessions)
	g := backend.NewGateway(5 * time.Second)
	ctx := context.Background()

	require.Equal(t, backend.OutcomePublished, g.Publish(ctx, inst, "one", captcha).Outcome)
	r.expire("t1")

	// Stale token, answers still present: refresh succeeds in one go.
	res := g.Publish(ctx, inst, "two", captcha)
	require.Equal(t, backend.OutcomePublished, res.Outcome)
	assert.Equal(t, 2, r.logins)

	// Stale again without answers: the refresh needs a captcha.
	r.expire("t2")
	res = g.Publish(ctx, inst, "three", nil)
	require.Equal(t, backend.OutcomeNeedsInput, res.Outcome)
	_, ok, _ := sessions.Get(ctx, "backend:9:u")
	assert.False(t, ok, "stale session dropped")
}

func TestRemoteRefusalRejects(t *testing.T) {
	_, srv := newRemote(t)
	inst := open(t, srv, NewMemorySessions(8, time.Hour))
	res := backend.NewGateway(5*time.Second).Publish(context.Background(), inst, "forbidden", captcha)
	assert.Equal(t, backend.OutcomeRejected, res.Outcome)
}

func TestUnreachableRemoteRejects(t *testing.T) {
	_, srv := newRemote(t)
	inst := open(t, srv, NewMemorySessions(8, time.Hour))
	srv.Close()
	res := backend.NewGateway(5*time.Second).Publish(context.Background(), inst, "x", nil)
	assert.Equal(t, backend.OutcomeRejected, res.Outcome)
}

func TestParamsValidated(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(Kind(Deps{})))
	_, err := reg.Open(backend.Record{ID: 1, Kind: Key, Params: []byte(`{"username":"u","password":"p","base-url":"not a url"}`)})
	assert.Error(t, err)
}

func TestMemorySessionsExpire(t *testing.T) {
	s := NewMemorySessions(2, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", "tok"))
	tok, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	time.Sleep(50 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
}

// TestRedisSessions runs against a real server when TREEHOLE_TEST_REDIS_URL
// is set.
func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("TREEHOLE_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("TREEHOLE_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(addr)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	s := NewRedisSessions(rdb, time.Minute)
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, "tok"))
	tok, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	require.NoError(t, s.Delete(ctx, key))
	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
