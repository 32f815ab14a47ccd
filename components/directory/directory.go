// components/directory/directory.go
//
// Meta-site endpoints.
//
// Context
// -------
//
//	GET /               – list every site with a backend (meta site only)
//	GET /go?service=s   – redirect to //s<suffix>/
//	GET /wait           – poll until the requested site exists
//	GET /create         – bootstrap the meta site on a fresh install, or
//	                      list the backend kinds a new site can use
//
// /wait and /create are served on hosts that name no site yet.  The
// suffix of the request host is reused for every redirect so ports and
// parent domains survive.
package directory

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/treehole/internal/acl"
	"github.com/yanizio/treehole/internal/auth"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/response"
	"github.com/yanizio/treehole/internal/site"
	"github.com/yanizio/treehole/internal/tenant"
)

// Handler serves the directory.
type Handler struct {
	DB       *sqlx.DB
	Registry *backend.Registry
	Cache    *tenant.Cache
}

type entry struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// List writes every backend site.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil || !t.IsMeta() {
		response.WriteError(w, http.StatusNotFound, "no such site")
		return
	}
	rows, err := site.WithBackend(r.Context(), h.DB)
	if err != nil {
		logger.FromContext(r.Context()).Errorw("directory list", "err", err)
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	_, suffix := tenant.HostFromContext(r.Context())
	out := make([]entry, 0, len(rows))
	for _, s := range rows {
		out = append(out, entry{Slug: s.Slug, Label: s.Label, URL: siteURL(s.Slug, suffix)})
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"site": t.Site.Label, "sites": out})
}

// Go redirects to the site named by ?service=.
func (h *Handler) Go(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("service")
	if !tenant.ValidSlug(slug) {
		response.WriteError(w, http.StatusNotFound, "no such site")
		return
	}
	_, suffix := tenant.HostFromContext(r.Context())
	http.Redirect(w, r, siteURL(slug, suffix), http.StatusFound)
}

// Wait redirects to / once the host's site exists, and otherwise to a
// cache-busting URL that polls again.
func (h *Handler) Wait(w http.ResponseWriter, r *http.Request) {
	if tenant.FromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, r.URL.Path+"?_="+uuid.NewString(), http.StatusFound)
}

// Create bootstraps the meta site on the request host.  Once it exists,
// Create lists the registered backend kinds instead.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if tenant.FromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	slug, _ := tenant.HostFromContext(r.Context())
	log := logger.FromContext(r.Context())

	rec, err := site.CreateMeta(r.Context(), h.DB, slug, slug)
	switch {
	case errors.Is(err, site.ErrMetaExists):
		response.WriteJSON(w, http.StatusOK, map[string]any{
			"slug":     slug,
			"backends": h.Registry.Kinds(),
		})
		return
	case err != nil:
		log.Errorw("meta site create", "slug", slug, "err", err)
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}

	if uid, ok := auth.UserID(r.Context()); ok {
		if err := acl.AddOwner(r.Context(), h.DB, rec.ID, uid); err != nil {
			log.Errorw("meta site owner", "slug", slug, "user", uid, "err", err)
		}
	}
	h.Cache.Invalidate(slug)
	log.Infow("meta site created", "slug", slug, "id", rec.ID)
	http.Redirect(w, r, "/wait", http.StatusSeeOther)
}

func siteURL(slug, suffix string) string {
	return "//" + tenant.BuildHost(slug, suffix) + "/"
}
