// components/auth/auth.go
//
// Session endpoints.  Logging in happens at the external identity
// service that shares the session key; treehole only reports and ends
// sessions.
//
//------------------------------------------------------------------------------

package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	iauth "github.com/yanizio/treehole/internal/auth"
	"github.com/yanizio/treehole/internal/response"
	"github.com/yanizio/treehole/internal/session"
)

// Component serves /session.
type Component struct {
	Sessions *session.Manager
}

// Routes builds the router mounted at "/session".
func (c *Component) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", c.handleWhoAmI)
	r.Delete("/", c.handleLogout)
	return r
}

/*──────────────────────────── Handlers ─────────────────────────────────────*/

func (c *Component) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	uid, ok := iauth.UserID(r.Context())
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int64{"user_id": uid})
}

func (c *Component) handleLogout(w http.ResponseWriter, _ *http.Request) {
	c.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
