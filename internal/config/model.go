// internal/config/model.go
//
// Typed configuration model for treehole.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                            – dotenv values,
//   • `conf/global.yaml`                         – primary static file,
//   • `TREEHOLE_`-prefixed environment overrides – highest precedence.
//
// Validation happens immediately after unmarshal and defaulting; the app
// fails fast if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • Durations accept Go syntax ("20s", "1h") through koanf's default
//     decode hooks.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gte=0"`
	// TrustProxy enables X-Forwarded-For / X-Real-IP client addresses.
	TrustProxy bool `koanf:"trust_proxy"`
}

//
// Database section
//

// Database holds the control-plane DSN and pool sizes.  The DSN may be a
// `vault:` reference; cmd/web resolves it before connecting.
type Database struct {
	DSN          string `koanf:"dsn"            validate:"required"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `koanf:"max_idle_conns" validate:"gte=0"`
	Migrate      bool   `koanf:"migrate"`
}

//
// Redis section (optional)
//

// Redis configures the shared backend session cache.  An empty URL selects
// the in-process cache instead.
type Redis struct {
	URL string `koanf:"url" validate:"omitempty,url"`
}

//
// Vault section (optional)
//

// Vault toggles resolution of `vault:` backend parameters.  Address and
// token come from VAULT_ADDR / VAULT_TOKEN.
type Vault struct {
	Enabled  bool          `koanf:"enabled"`
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

//
// GeoIP section (optional)
//

// GeoIP points at a MaxMind GeoLite2-City database.
type GeoIP struct {
	DBPath string `koanf:"db_path"`
}

//
// Publish section
//

// Publish tunes the backend gateway.
type Publish struct {
	Timeout     time.Duration `koanf:"timeout"      validate:"gt=0"`
	SessionTTL  time.Duration `koanf:"session_ttl"  validate:"gt=0"`
	Backends    []string      `koanf:"backends"     validate:"min=1,dive,oneof=local-file social webhook"`
	MaxTextSize int           `koanf:"max_text_size" validate:"gt=0"`
	RejectBots  bool          `koanf:"reject_bots"`
}

//
// Tenant cache section
//

// Tenant tunes the lazy site cache.
type Tenant struct {
	IdleTTL       time.Duration `koanf:"idle_ttl"       validate:"gt=0"`
	MaxEntries    int           `koanf:"max_entries"    validate:"gte=0"`
	EvictInterval time.Duration `koanf:"evict_interval" validate:"gt=0"`
}

//
// Security section
//

// Security holds HMAC keys for CSRF tokens and session cookies.  Both are
// base64url strings of at least 32 bytes; empty values generate an
// ephemeral key at startup.
type Security struct {
	CSRFKey    string `koanf:"csrf_key"`
	SessionKey string `koanf:"session_key"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // TREEHOLE_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Vault    Vault    `koanf:"vault"`
	GeoIP    GeoIP    `koanf:"geoip"`
	Publish  Publish  `koanf:"publish"`
	Tenant   Tenant   `koanf:"tenant"`
	Security Security `koanf:"security"`
	Paths    Paths    `koanf:"-"`
}

// applyDefaults fills zero values that YAML commonly omits.
func applyDefaults(c *Config) {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		// Must outlast Publish.Timeout or slow backends get cut mid-response.
		c.HTTP.WriteTimeout = 60 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 15
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Vault.CacheTTL == 0 {
		c.Vault.CacheTTL = 10 * time.Minute
	}
	if c.Publish.Timeout == 0 {
		c.Publish.Timeout = 20 * time.Second
	}
	if c.Publish.SessionTTL == 0 {
		c.Publish.SessionTTL = time.Hour
	}
	if len(c.Publish.Backends) == 0 {
		c.Publish.Backends = []string{"local-file"}
	}
	if c.Publish.MaxTextSize == 0 {
		c.Publish.MaxTextSize = 4000
	}
	if c.Tenant.IdleTTL == 0 {
		c.Tenant.IdleTTL = 30 * time.Minute
	}
	if c.Tenant.MaxEntries == 0 {
		c.Tenant.MaxEntries = 100
	}
	if c.Tenant.EvictInterval == 0 {
		c.Tenant.EvictInterval = 5 * time.Minute
	}
}
