//
//  internal/requestinfo/requestinfo.go
//
//  Per-request metadata: the client address submissions are evaluated
//  against, a user-agent fingerprint, and best-effort geolocation.
//  These structs are inert, so they are safe to log.
//
//  Dependencies
//  • github.com/avct/uasurfer          (UA parsing)
//  • github.com/oschwald/geoip2-golang (MaxMind lookup)
//

package requestinfo

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

//
//  -----------------------------
//  Struct definitions
//  -----------------------------
//

// UA holds the parsed user-agent properties.
type UA struct {
	Browser     string // "Chrome", "Firefox", ...
	OS          string // "MacOSX", "Windows", "Android", ...
	Device      string // "Computer", "Phone", "Tablet", ...
	IsBot       bool
	PrimaryLang string // first Accept-Language tag
}

// Geo holds IP-based hints.  Empty when no database is loaded or the
// address has no record.
type Geo struct {
	CountryISO string
	City       string
}

// RequestInfo is attached to the request context by Enrich.
type RequestInfo struct {
	// Addr is the client address as a string, the identity source for
	// access policies.
	Addr      string
	UA        UA
	Geo       Geo
	Timestamp time.Time
}

//
//  -----------------------------
//  Geo database
//  -----------------------------
//

// GeoDB is the lookup half of *geoip2.Reader.
type GeoDB interface {
	City(ip net.IP) (*geoip2.City, error)
}

// OpenGeo opens a GeoLite2-City database.  The returned reader is safe for
// concurrent lookups; callers Close it on shutdown.
func OpenGeo(path string) (*geoip2.Reader, error) {
	return geoip2.Open(path)
}

func lookupGeo(db GeoDB, addr string) Geo {
	ip := net.ParseIP(addr)
	if db == nil || ip == nil {
		return Geo{}
	}
	rec, err := db.City(ip)
	if err != nil {
		return Geo{}
	}
	return Geo{CountryISO: rec.Country.IsoCode, City: rec.City.Names["en"]}
}

//
//  -----------------------------
//  Context helpers
//  -----------------------------
//

type ctxKey struct{}

// WithInfo returns ctx carrying info.
func WithInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// FromContext returns the value stored by Enrich, or nil.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

//
//  -----------------------------
//  UA parsing
//  -----------------------------
//

func parseUA(uaHeader, acceptLang string) UA {
	u := uasurfer.Parse(uaHeader)
	return UA{
		Browser:     u.Browser.Name.StringTrimPrefix(),
		OS:          u.OS.Name.StringTrimPrefix(),
		Device:      u.DeviceType.StringTrimPrefix(),
		IsBot:       u.IsBot(),
		PrimaryLang: primaryLang(acceptLang),
	}
}

// primaryLang extracts the first language subtag before any ";q=" rule.
func primaryLang(al string) string {
	if al == "" {
		return ""
	}
	tag := strings.TrimSpace(strings.Split(al, ",")[0])
	if i := strings.Index(tag, ";"); i != -1 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
