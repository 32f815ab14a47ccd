// internal/tenant/entry.go
//
// Tenant cache entry and aggregate.
//
// Context
// -------
// A live Tenant aggregates everything a request needs to serve one site:
// its `site` row, the opened backend (nil for the meta site), and the
// parsed access policy.  The cache stores a pointer to Tenant inside
// `entry`, along with a `lastSeen` UnixNano timestamp used by the evictor
// for idle and LRU eviction.
//
// Notes
// -----
//   - Handlers must treat Tenant as immutable.  Changing a site means
//     writing the row and calling Cache.Invalidate.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"github.com/yanizio/treehole/internal/access"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/site"
)

//
// Cache entry
//

type entry struct {
	tenant   *Tenant
	lastSeen int64 // UnixNano
}

//
// Tenant aggregate
//

// Tenant groups the per-site runtime state.
type Tenant struct {
	Site    site.Record
	Backend *backend.Instance // nil for the meta site
	Policy  *access.Policy
}

// IsMeta reports whether t is the directory site.
func (t *Tenant) IsMeta() bool { return t.Site.IsMeta() }
