// internal/acl/middleware.go
//
// Chi middleware that restricts a route to the current site's owners.

package acl

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/treehole/internal/auth"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/tenant"
)

// RequireOwner lets the request through only when the session user owns
// the resolved site.  No user is 401, an unknown site 404, and a user who
// is not an owner 403.
func RequireOwner(db sqlx.QueryerContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := auth.UserID(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			t := tenant.FromContext(r.Context())
			if t == nil {
				http.NotFound(w, r)
				return
			}

			owner, err := IsOwner(r.Context(), db, t.Site.ID, uid)
			if err != nil {
				logger.FromContext(r.Context()).Errorw("acl owner lookup", "user", uid, "err", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !owner {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
