// evictor.go houses the eviction loop for Cache.  Every evict interval it
// scans the map and removes:
//
//   - tenants idle longer than idleTTL
//   - least-recently-used tenants when map size exceeds maxEntries
//
// Each eviction event is logged and updates Prometheus counters.
package tenant

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/yanizio/treehole/internal/metrics"
)

func (c *Cache) evictLoop() {
	for {
		select {
		case <-c.done:
			return
		case now := <-c.evictTicker.C:
			c.evict(now)
		}
	}
}

// evict runs one idle pass and one LRU pass as of now.
func (c *Cache) evict(now time.Time) {
	var count int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		idle := now.Sub(time.Unix(0, atomic.LoadInt64(&ent.lastSeen)))
		if idle > c.idleTTL {
			c.drop(key.(string))
			c.log.Infow("tenant evicted", "slug", key, "idle", idle.Truncate(time.Second))
			return true
		}
		count++
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if c.maxEntries > 0 && count > c.maxEntries {
		type kv struct {
			key string
			at  int64
		}
		var all []kv
		c.m.Range(func(key, value any) bool {
			ent := value.(*entry)
			all = append(all, kv{key: key.(string), at: atomic.LoadInt64(&ent.lastSeen)})
			return true
		})
		sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
		for i := 0; i < len(all)-c.maxEntries; i++ {
			c.drop(all[i].key)
			c.log.Infow("tenant evicted (LRU pressure)", "slug", all[i].key)
		}
	}
}

func (c *Cache) drop(slug string) {
	if _, loaded := c.m.LoadAndDelete(slug); loaded {
		metrics.TenantEvictTotal.Inc()
		metrics.ActiveTenants.Dec()
	}
}
