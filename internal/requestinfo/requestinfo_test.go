package requestinfo

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeo map[string]string

func (f fakeGeo) City(ip net.IP) (*geoip2.City, error) {
	iso, ok := f[ip.String()]
	if !ok {
		return nil, errors.New("no record")
	}
	rec := &geoip2.City{}
	rec.Country.IsoCode = iso
	return rec, nil
}

func capture(e *Enricher, prep func(*http.Request)) *RequestInfo {
	var got *RequestInfo
	h := e.Enrich(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	prep(req)
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientAddr(t *testing.T) {
	cases := []struct {
		name  string
		trust bool
		prep  func(*http.Request)
		want  string
	}{
		{"remote addr", false, func(r *http.Request) { r.RemoteAddr = "1.2.3.4:5555" }, "1.2.3.4"},
		{"ipv6 remote", false, func(r *http.Request) { r.RemoteAddr = "[2001:db8::1]:80" }, "2001:db8::1"},
		{"mapped v4", false, func(r *http.Request) { r.RemoteAddr = "[::ffff:1.2.3.4]:80" }, "1.2.3.4"},
		{"xff ignored", false, func(r *http.Request) {
			r.RemoteAddr = "10.0.0.1:1"
			r.Header.Set("X-Forwarded-For", "6.6.6.6")
		}, "10.0.0.1"},
		{"xff rightmost", true, func(r *http.Request) {
			r.RemoteAddr = "10.0.0.1:1"
			r.Header.Set("X-Forwarded-For", "6.6.6.6, 7.7.7.7, junk")
		}, "7.7.7.7"},
		{"real ip", true, func(r *http.Request) {
			r.RemoteAddr = "10.0.0.1:1"
			r.Header.Set("X-Real-Ip", "8.8.4.4")
		}, "8.8.4.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := capture(&Enricher{TrustProxy: tc.trust}, tc.prep)
			require.NotNil(t, info)
			assert.Equal(t, tc.want, info.Addr)
		})
	}
}

func TestEnrichUAAndGeo(t *testing.T) {
	e := &Enricher{Geo: fakeGeo{"1.2.3.4": "FR"}}
	info := capture(e, func(r *http.Request) {
		r.RemoteAddr = "1.2.3.4:1"
		r.Header.Set("User-Agent", "Googlebot/2.1 (+http://www.google.com/bot.html)")
		r.Header.Set("Accept-Language", "fr-FR;q=0.9, en")
	})
	require.NotNil(t, info)
	assert.Equal(t, "FR", info.Geo.CountryISO)
	assert.True(t, info.UA.IsBot)
	assert.Equal(t, "fr-fr", info.UA.PrimaryLang)

	info = capture(e, func(r *http.Request) { r.RemoteAddr = "9.9.9.9:1" })
	assert.Empty(t, info.Geo.CountryISO)
}
