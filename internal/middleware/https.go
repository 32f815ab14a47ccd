// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"net"
	"net/http"

	"github.com/yanizio/treehole/internal/tenant"
)

// ForceHTTPS issues a 308 Permanent Redirect to the HTTPS version of the
// URL when the request arrived over plain HTTP for a known site.  Local
// hosts, unknown sites, and requests a TLS-terminating proxy marked with
// X-Forwarded-Proto: https pass through unchanged.
//
// It must run after tenant.Middleware.
func ForceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" || isLocal(r.Host) {
			next.ServeHTTP(w, r)
			return
		}
		if tenant.FromContext(r.Context()) == nil {
			next.ServeHTTP(w, r)
			return
		}
		target := "https://" + r.Host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}

// isLocal reports whether host (with optional port) is a loopback name.
func isLocal(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
