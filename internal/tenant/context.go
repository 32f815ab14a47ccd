// context.go carries the resolved site through a request.  Middleware
// resolves the Host header once; handlers read the result with
// FromContext and pass it on explicitly.
package tenant

import (
	"context"
	"errors"
	"net/http"

	"github.com/yanizio/treehole/internal/logger"
)

type ctxKey struct{}

type resolved struct {
	slug   string
	suffix string
	tenant *Tenant // nil when no site carries slug
}

// WithTenant returns a copy of ctx carrying t and the host parts.
func WithTenant(ctx context.Context, slug, suffix string, t *Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, &resolved{slug: slug, suffix: suffix, tenant: t})
}

// FromContext returns the resolved tenant, or nil when the host named no
// existing site.
func FromContext(ctx context.Context) *Tenant {
	if r, ok := ctx.Value(ctxKey{}).(*resolved); ok {
		return r.tenant
	}
	return nil
}

// HostFromContext returns the slug and suffix the request was addressed
// to.
func HostFromContext(ctx context.Context) (slug, suffix string) {
	if r, ok := ctx.Value(ctxKey{}).(*resolved); ok {
		return r.slug, r.suffix
	}
	return "", ""
}

// Middleware resolves the Host header through c.  Hosts that do not start
// with a valid slug get 404.  Unknown slugs pass through with a nil
// tenant so /create and /wait can serve them.  Load failures are 503.
func Middleware(c *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, suffix, err := SplitHost(r.Host)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			t, err := c.Get(r.Context(), slug)
			if err != nil && !errors.Is(err, ErrNotFound) {
				logger.FromContext(r.Context()).Errorw("tenant unavailable", "slug", slug, "err", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			ctx := WithTenant(r.Context(), slug, suffix, t)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With("site", slug))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
