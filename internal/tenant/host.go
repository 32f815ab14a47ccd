// internal/tenant/host.go
//
// Host header ↔ slug helpers.
//
// Context
// -------
// A site is addressed by the leftmost DNS label of the Host header:
//
//	cats.treehole.example:8443 → slug "cats", suffix ".treehole.example:8443"
//	localhost:8080             → slug "localhost", suffix ":8080"
//
// The suffix is kept verbatim so redirects to sibling sites preserve the
// parent domain and port.
package tenant

import (
	"errors"
	"regexp"
	"strings"
)

// ErrBadHost is returned when the leftmost label is not a valid slug.
var ErrBadHost = errors.New("host does not start with a valid site slug")

var slugRE = regexp.MustCompile(`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])$`)

// ValidSlug reports whether s can name a site.
func ValidSlug(s string) bool { return slugRE.MatchString(s) }

// SplitHost returns the slug and the remaining suffix of host.
func SplitHost(host string) (slug, suffix string, err error) {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		slug, suffix = host[:i], host[i:]
	} else {
		slug = host
		if j := strings.IndexByte(host, ':'); j >= 0 {
			slug, suffix = host[:j], host[j:]
		}
	}
	if !ValidSlug(slug) {
		return "", "", ErrBadHost
	}
	return slug, suffix, nil
}

// BuildHost is the inverse of SplitHost.
func BuildHost(slug, suffix string) string { return slug + suffix }
