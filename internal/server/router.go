// internal/server/router.go
//
// Root chi router.
//
// Context
// -------
// Middleware order, outermost first:
//
//	RequestID → RequestLogger → Recoverer → Security → requestinfo.Enrich
//	→ tenant.Middleware → ForceHTTPS (optional) → session → CSRF
//
// /metrics and /healthz are mounted outside the tenant group so they
// answer on any host.  Inside it, "/" is dispatched on the kind of site
// the host resolved to: the meta site lists the directory, a backend site
// serves the submission form.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	authc "github.com/yanizio/treehole/components/auth"
	"github.com/yanizio/treehole/components/board"
	"github.com/yanizio/treehole/components/directory"
	"github.com/yanizio/treehole/components/queue"
	"github.com/yanizio/treehole/internal/acl"
	"github.com/yanizio/treehole/internal/form"
	"github.com/yanizio/treehole/internal/middleware"
	"github.com/yanizio/treehole/internal/requestinfo"
	"github.com/yanizio/treehole/internal/response"
	"github.com/yanizio/treehole/internal/session"
	"github.com/yanizio/treehole/internal/tenant"
)

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger     *zap.SugaredLogger
	DB         sqlx.QueryerContext
	Cache      *tenant.Cache
	Enricher   *requestinfo.Enricher
	Sessions   *session.Manager
	CSRF       *form.CSRF
	ForceHTTPS bool

	Board     *board.Handler
	Directory *directory.Handler
	Queue     *queue.Handler
}

// Router builds the root handler.
func Router(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Security)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Enricher.Enrich)
		r.Use(tenant.Middleware(d.Cache))
		if d.ForceHTTPS {
			r.Use(middleware.ForceHTTPS)
		}
		r.Use(d.Sessions.Middleware)
		r.Use(d.CSRF.Middleware)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			t := tenant.FromContext(r.Context())
			switch {
			case t == nil:
				response.WriteError(w, http.StatusNotFound, "no such site")
			case t.IsMeta():
				d.Directory.List(w, r)
			default:
				d.Board.Form(w, r)
			}
		})
		r.Post("/", d.Board.Submit)

		r.Get("/go", d.Directory.Go)
		r.Get("/wait", d.Directory.Wait)
		r.Get("/create", d.Directory.Create)

		r.Route("/moderate", func(r chi.Router) {
			r.Use(acl.RequireOwner(d.DB))
			r.Get("/", d.Queue.List)
			r.Post("/", d.Queue.Process)
		})

		r.Mount("/session", (&authc.Component{Sessions: d.Sessions}).Routes())
	})
	return r
}
