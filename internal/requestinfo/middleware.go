// internal/requestinfo/middleware.go
//
// HTTP middleware that enriches each request with *RequestInfo.
//
/*
Context
--------
This handler sits before tenant lookup.  For every request it:

  1. Determines the client address.  X-Forwarded-For and X-Real-IP are
     honoured only with TrustProxy; otherwise r.RemoteAddr is used.
  2. Parses the User-Agent header and Accept-Language list.
  3. Performs a GeoLite2 lookup when a database is loaded.
  4. Stores a *RequestInfo in the request context.

The address is what access policies mask into identity tokens, so it is
trimmed of ports and IPv6 zones here.

Notes
-----
  • With TrustProxy the rightmost X-Forwarded-For entry wins.  That is the
    one appended by the trusted proxy; entries left of it are
    client-controlled.
*/
package requestinfo

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/yanizio/treehole/internal/logger"
)

// Enricher builds RequestInfo values.
type Enricher struct {
	TrustProxy bool
	Geo        GeoDB // may be nil
}

// Enrich wraps next, attaches *RequestInfo, and forwards.
func (e *Enricher) Enrich(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := e.clientAddr(r)
		info := &RequestInfo{
			Addr:      addr,
			UA:        parseUA(r.UserAgent(), r.Header.Get("Accept-Language")),
			Geo:       lookupGeo(e.Geo, addr),
			Timestamp: time.Now().UTC(),
		}

		log := logger.FromContext(r.Context())
		log.Debugw("request info",
			"addr", info.Addr,
			"country", info.Geo.CountryISO,
			"browser", info.UA.Browser,
			"device", info.UA.Device,
			"bot", info.UA.IsBot,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
	})
}

func (e *Enricher) clientAddr(r *http.Request) string {
	if e.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				if a, ok := parseAddr(parts[i]); ok {
					return a
				}
			}
		}
		if a, ok := parseAddr(r.Header.Get("X-Real-Ip")); ok {
			return a
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if a, ok := parseAddr(host); ok {
		return a
	}
	return ""
}

func parseAddr(s string) (string, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return a.WithZone("").Unmap().String(), true
}
