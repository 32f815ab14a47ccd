// internal/tenant/cache.go
//
// Lazy per-slug tenant cache.
//
// Context
// -------
// Every request names its site through the Host header.  Cache.Get maps
// the slug to a *Tenant, loading it at most once concurrently per slug
// (singleflight) and keeping it in a sync.Map until the evictor drops it
// for idleness or LRU pressure.  Misses are not cached, so a site created
// after a failed lookup is picked up on the next request.
package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/treehole/internal/metrics"
)

// Static defaults, used when Options leaves a field zero.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 100
	EvictInterval = 5 * time.Minute
)

// ErrNotFound is returned when no site carries the slug.
var ErrNotFound = errors.New("tenant not found")

// LoadFunc builds a Tenant for slug.  It returns ErrNotFound for unknown
// slugs.
type LoadFunc func(ctx context.Context, slug string) (*Tenant, error)

// Options tune a Cache.
type Options struct {
	IdleTTL       time.Duration
	MaxEntries    int
	EvictInterval time.Duration
	Logger        *zap.SugaredLogger
}

// Cache lazily loads tenants, stores them in a sync.Map, and evicts them on
// idle TTL or LRU pressure.
type Cache struct {
	load        LoadFunc
	sfg         singleflight.Group
	m           sync.Map
	evictTicker *time.Ticker
	done        chan struct{}
	stopOnce    sync.Once
	idleTTL     time.Duration
	maxEntries  int
	log         *zap.SugaredLogger
}

// New constructs a Cache and starts the background evictor.
func New(load LoadFunc, o Options) *Cache {
	if o.IdleTTL <= 0 {
		o.IdleTTL = IdleTTL
	}
	if o.MaxEntries < 0 {
		o.MaxEntries = MaxEntries
	}
	if o.EvictInterval <= 0 {
		o.EvictInterval = EvictInterval
	}
	if o.Logger == nil {
		o.Logger = zap.S()
	}
	c := &Cache{
		load:        load,
		idleTTL:     o.IdleTTL,
		maxEntries:  o.MaxEntries,
		log:         o.Logger,
		evictTicker: time.NewTicker(o.EvictInterval),
		done:        make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Close stops the evictor.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		c.evictTicker.Stop()
		close(c.done)
	})
}

// Get returns the Tenant for slug, loading it on demand.
func (c *Cache) Get(ctx context.Context, slug string) (*Tenant, error) {
	if v, ok := c.m.Load(slug); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.tenant, nil
	}

	v, err, _ := c.sfg.Do(slug, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := c.m.Load(slug); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.tenant, nil
		}
		// Detached from the caller so one cancelled request does not fail
		// every waiter.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		ten, err := c.load(loadCtx, slug)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				metrics.TenantLoadErrorsTotal.Inc()
				c.log.Errorw("tenant load failed", "slug", slug, "err", err)
			}
			return nil, err
		}
		c.m.Store(slug, &entry{tenant: ten, lastSeen: time.Now().UnixNano()})
		metrics.TenantLoadTotal.Inc()
		metrics.ActiveTenants.Inc()
		c.log.Infow("tenant loaded", "slug", slug, "meta", ten.IsMeta())
		return ten, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenant), nil
}

// Invalidate drops slug so the next Get reloads it.
func (c *Cache) Invalidate(slug string) {
	if _, loaded := c.m.LoadAndDelete(slug); loaded {
		metrics.ActiveTenants.Dec()
		c.log.Infow("tenant invalidated", "slug", slug)
	}
}

// Len reports the number of cached tenants.
func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool { n++; return true })
	return n
}
