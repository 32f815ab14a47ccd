package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/treehole/internal/access"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/site"
)

func newCache(t *testing.T, load LoadFunc, o Options) *Cache {
	t.Helper()
	o.Logger = zap.NewNop().Sugar()
	if o.EvictInterval == 0 {
		o.EvictInterval = time.Hour
	}
	c := New(load, o)
	t.Cleanup(c.Close)
	return c
}

func fakeTenant(slug string) *Tenant {
	id := int64(1)
	return &Tenant{Site: site.Record{ID: 1, Slug: slug, BackendID: &id}, Policy: &access.Policy{}}
}

/* ------------------------------------------------------------------ */
/* Host helpers                                                        */
/* ------------------------------------------------------------------ */

func TestSplitHost(t *testing.T) {
	cases := []struct {
		host, slug, suffix string
		ok                 bool
	}{
		{"cats.example.com", "cats", ".example.com", true},
		{"cats.example.com:8443", "cats", ".example.com:8443", true},
		{"localhost:8080", "localhost", ":8080", true},
		{"a", "a", "", true},
		{"x-1.y", "x-1", ".y", true},
		{"-bad.example.com", "", "", false},
		{"bad-.example.com", "", "", false},
		{"under_score.example.com", "", "", false},
		{".example.com", "", "", false},
	}
	for _, tc := range cases {
		slug, suffix, err := SplitHost(tc.host)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrBadHost, tc.host)
			continue
		}
		require.NoError(t, err, tc.host)
		assert.Equal(t, tc.slug, slug, tc.host)
		assert.Equal(t, tc.suffix, suffix, tc.host)
		assert.Equal(t, tc.host, BuildHost(slug, suffix))
	}
}

/* ------------------------------------------------------------------ */
/* Cache                                                               */
/* ------------------------------------------------------------------ */

func TestCacheLoadsOncePerSlug(t *testing.T) {
	var loads int32
	gate := make(chan struct{})
	c := newCache(t, func(_ context.Context, slug string) (*Tenant, error) {
		atomic.AddInt32(&loads, 1)
		<-gate
		return fakeTenant(slug), nil
	}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ten, err := c.Get(context.Background(), "cats")
			assert.NoError(t, err)
			assert.Equal(t, "cats", ten.Site.Slug)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	_, err := c.Get(context.Background(), "cats")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
	assert.Equal(t, 1, c.Len())
}

func TestCacheDoesNotCacheMisses(t *testing.T) {
	exists := false
	c := newCache(t, func(_ context.Context, slug string) (*Tenant, error) {
		if !exists {
			return nil, ErrNotFound
		}
		return fakeTenant(slug), nil
	}, Options{})

	_, err := c.Get(context.Background(), "new")
	assert.ErrorIs(t, err, ErrNotFound)

	exists = true
	ten, err := c.Get(context.Background(), "new")
	require.NoError(t, err)
	assert.NotNil(t, ten)
}

func TestCacheInvalidate(t *testing.T) {
	var loads int32
	c := newCache(t, func(_ context.Context, slug string) (*Tenant, error) {
		atomic.AddInt32(&loads, 1)
		return fakeTenant(slug), nil
	}, Options{})
	ctx := context.Background()

	_, _ = c.Get(ctx, "cats")
	c.Invalidate("cats")
	c.Invalidate("never-loaded")
	_, _ = c.Get(ctx, "cats")
	assert.EqualValues(t, 2, atomic.LoadInt32(&loads))
}

func TestEvictIdleAndLRU(t *testing.T) {
	c := newCache(t, func(_ context.Context, slug string) (*Tenant, error) {
		return fakeTenant(slug), nil
	}, Options{IdleTTL: time.Minute, MaxEntries: 2})
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := c.Get(ctx, s)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	// Nothing idle yet; LRU trims the two oldest.
	c.evict(time.Now())
	assert.Equal(t, 2, c.Len())
	_, aCached := c.m.Load("a")
	_, dCached := c.m.Load("d")
	assert.False(t, aCached)
	assert.True(t, dCached)

	// An hour later everything is idle.
	c.evict(time.Now().Add(time.Hour))
	assert.Zero(t, c.Len())
}

/* ------------------------------------------------------------------ */
/* Loader                                                              */
/* ------------------------------------------------------------------ */

var siteCols = []string{"id", "slug", "label", "backend_id", "params", "created_at", "updated_at"}

func TestLoader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(backend.Kind{
		Key: "null",
		New: func(backend.Record) (backend.Publisher, error) {
			return backend.PublisherFunc(func(context.Context, string, url.Values) backend.Result {
				return backend.Published("")
			}), nil
		},
	}))
	l := &Loader{DB: sqlx.NewDb(db, "mysql"), Registry: reg, Logger: zap.NewNop().Sugar()}
	now := time.Now()
	siteQ := regexp.QuoteMeta(`FROM site WHERE slug = ?`)
	backendQ := regexp.QuoteMeta(`FROM backend WHERE id = ?`)

	// Backend site.
	mock.ExpectQuery(siteQ).WithArgs("cats").WillReturnRows(sqlmock.NewRows(siteCols).
		AddRow(3, "cats", "Cats", 5, `{"access":[{"network":"0.0.0.0/0"}]}`, now, now))
	mock.ExpectQuery(backendQ).WithArgs(int64(5)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "kind", "params"}).AddRow(5, "null", `{}`))
	// Meta site with broken rules.
	mock.ExpectQuery(siteQ).WithArgs("www").WillReturnRows(sqlmock.NewRows(siteCols).
		AddRow(1, "www", "Directory", nil, `{"access":[{"network":"x"}]}`, now, now))
	// Unknown backend kind.
	mock.ExpectQuery(siteQ).WithArgs("odd").WillReturnRows(sqlmock.NewRows(siteCols).
		AddRow(4, "odd", "Odd", 6, `{}`, now, now))
	mock.ExpectQuery(backendQ).WithArgs(int64(6)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "kind", "params"}).AddRow(6, "carrier-pigeon", `{}`))
	// Missing.
	mock.ExpectQuery(siteQ).WithArgs("none").WillReturnRows(sqlmock.NewRows(siteCols))

	ctx := context.Background()

	ten, err := l.Load(ctx, "cats")
	require.NoError(t, err)
	assert.False(t, ten.IsMeta())
	require.NotNil(t, ten.Backend)
	assert.Equal(t, int64(5), ten.Backend.Record.ID)
	assert.NoError(t, ten.Policy.Err)

	ten, err = l.Load(ctx, "www")
	require.NoError(t, err)
	assert.True(t, ten.IsMeta())
	assert.Nil(t, ten.Backend)
	assert.ErrorIs(t, ten.Policy.Err, access.ErrInvalidRule)

	_, err = l.Load(ctx, "odd")
	assert.ErrorIs(t, err, backend.ErrUnknownKind)

	_, err = l.Load(ctx, "none")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

/* ------------------------------------------------------------------ */
/* Middleware                                                          */
/* ------------------------------------------------------------------ */

func TestMiddleware(t *testing.T) {
	c := newCache(t, func(_ context.Context, slug string) (*Tenant, error) {
		switch slug {
		case "cats":
			return fakeTenant(slug), nil
		case "broken":
			return nil, errors.New("db down")
		}
		return nil, ErrNotFound
	}, Options{})

	h := Middleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug, suffix := HostFromContext(r.Context())
		if FromContext(r.Context()) == nil {
			w.WriteHeader(http.StatusNoContent)
		}
		_, _ = w.Write([]byte(slug + "|" + suffix))
	}))

	do := func(host string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("cats.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cats|.example.com", rec.Body.String())

	assert.Equal(t, http.StatusNoContent, do("dogs.example.com").Code)
	assert.Equal(t, http.StatusNotFound, do("_x.example.com").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do("broken.example.com").Code)
}
