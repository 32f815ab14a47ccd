// internal/server/timeouts.go
//
// HTTP server helper with explicit timeouts.
//
//   • ReadTimeout   – abort slow-loris headers
//   • WriteTimeout  – cap total response time; must outlast the backend
//                     publish timeout
//   • IdleTimeout   – close keep-alives on idle clients
//
// Values come from the http section of the config.

package server

import (
	"net/http"
	"time"

	"github.com/yanizio/treehole/internal/config"
)

// New constructs an *http.Server for handler.  A WriteTimeout shorter than
// publishTimeout is raised to publishTimeout plus a small margin.
func New(c config.HTTP, publishTimeout time.Duration, handler http.Handler) *http.Server {
	write := c.WriteTimeout
	if floor := publishTimeout + 5*time.Second; write < floor {
		write = floor
	}
	return &http.Server{
		Addr:              c.ListenAddr,
		Handler:           handler,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadTimeout,
		WriteTimeout:      write,
		IdleTimeout:       c.IdleTimeout,
	}
}
