// cmd/web/main.go
//
// treehole – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Load config (.env → conf/global.yaml → TREEHOLE_* env).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Resolve secrets through Vault when enabled, then open the
//     control-plane DB and apply migrations.
//
//  4. Register the configured backend kinds.  Social sessions live in
//     Redis when a URL is set, otherwise in an in-process LRU.
//
//  5. Build the tenant cache (lazy-loads each site on first hit).
//
//  6. Wire the publish and moderation services into the components and
//     mount them on the root router.
//
//  7. Serve until SIGINT/SIGTERM, then drain in-flight requests.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yanizio/treehole/components/board"
	"github.com/yanizio/treehole/components/directory"
	"github.com/yanizio/treehole/components/queue"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/backend/localfile"
	"github.com/yanizio/treehole/internal/backend/social"
	"github.com/yanizio/treehole/internal/backend/webhook"
	"github.com/yanizio/treehole/internal/config"
	"github.com/yanizio/treehole/internal/database"
	"github.com/yanizio/treehole/internal/form"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/moderation"
	"github.com/yanizio/treehole/internal/publish"
	"github.com/yanizio/treehole/internal/requestinfo"
	"github.com/yanizio/treehole/internal/server"
	"github.com/yanizio/treehole/internal/session"
	"github.com/yanizio/treehole/internal/tenant"
	"github.com/yanizio/treehole/internal/vault"
)

const shutdownGrace = 15 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logOut); err != nil {
		logOut.Fatalw("treehole stopped", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logOut *zap.SugaredLogger) error {
	//
	// ── 1.  Secrets ─────────────────────────────────────────────────────
	//
	var secrets vault.Resolver = vault.Passthrough{}
	if cfg.Vault.Enabled {
		vc, err := vault.New(ctx, logOut, cfg.Vault.CacheTTL)
		if err != nil {
			return err
		}
		secrets = vc
		logOut.Infow("vault enabled", "cache_ttl", cfg.Vault.CacheTTL)
	}

	//
	// ── 2.  Control-plane DB ────────────────────────────────────────────
	//
	dsn, err := secrets.Resolve(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	db, err := database.OpenWithOptions(ctx, dsn, database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Retries:      5,
		RetryBackoff: time.Second,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}
	logOut.Infow("database online", "migrate", cfg.Database.Migrate)

	//
	// ── 3.  Backend kinds ───────────────────────────────────────────────
	//
	var sessions social.SessionStore = social.NewMemorySessions(256, cfg.Publish.SessionTTL)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		sessions = social.NewRedisSessions(rdb, cfg.Publish.SessionTTL)
	}

	outbound := &http.Client{Timeout: cfg.Publish.Timeout}
	reg := backend.NewRegistry()
	for _, key := range cfg.Publish.Backends {
		var k backend.Kind
		switch key {
		case localfile.Key:
			k = localfile.Kind(cfg.Paths.Root)
		case social.Key:
			k = social.Kind(social.Deps{Sessions: sessions, Secrets: secrets, HTTP: outbound})
		case webhook.Key:
			k = webhook.Kind(webhook.Deps{Secrets: secrets, HTTP: outbound})
		}
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	logOut.Infow("backends registered", "kinds", cfg.Publish.Backends)

	//
	// ── 4.  Tenant cache ────────────────────────────────────────────────
	//
	loader := &tenant.Loader{DB: db, Registry: reg, Logger: logOut}
	cache := tenant.New(loader.Load, tenant.Options{
		IdleTTL:       cfg.Tenant.IdleTTL,
		MaxEntries:    cfg.Tenant.MaxEntries,
		EvictInterval: cfg.Tenant.EvictInterval,
		Logger:        logOut,
	})
	defer cache.Close()

	//
	// ── 5.  Request enrichment ──────────────────────────────────────────
	//
	enricher := &requestinfo.Enricher{TrustProxy: cfg.HTTP.TrustProxy}
	if cfg.GeoIP.DBPath != "" {
		geo, err := requestinfo.OpenGeo(cfg.GeoIP.DBPath)
		if err != nil {
			return err
		}
		defer geo.Close()
		enricher.Geo = geo
	}

	csrfKey, err := key(cfg.Security.CSRFKey, "csrf_key", logOut)
	if err != nil {
		return err
	}
	sessionKey, err := key(cfg.Security.SessionKey, "session_key", logOut)
	if err != nil {
		return err
	}
	csrf := form.NewCSRF(csrfKey)

	//
	// ── 6.  Services and components ─────────────────────────────────────
	//
	store := message.NewStore(db)
	gw := backend.NewGateway(cfg.Publish.Timeout)

	h := server.Router(server.Deps{
		Logger:     logOut,
		DB:         db,
		Cache:      cache,
		Enricher:   enricher,
		Sessions:   session.New(sessionKey, 0),
		CSRF:       csrf,
		ForceHTTPS: cfg.HTTP.ForceHTTPS,
		Board: &board.Handler{
			Service:    publish.New(store, gw),
			Finder:     store,
			CSRF:       csrf,
			MaxText:    cfg.Publish.MaxTextSize,
			RejectBots: cfg.Publish.RejectBots,
		},
		Directory: &directory.Handler{DB: db, Registry: reg, Cache: cache},
		Queue: &queue.Handler{
			Finder:  store,
			Service: moderation.New(store, gw),
			CSRF:    csrf,
		},
	})

	//
	// ── 7.  Serve ───────────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP, cfg.Publish.Timeout, h)
	errc := make(chan error, 1)
	go func() {
		logOut.Infow("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logOut.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}

// key decodes a configured base64url HMAC key.  An empty value yields an
// ephemeral random key, which invalidates tokens on every restart.
func key(encoded, name string, logOut *zap.SugaredLogger) ([]byte, error) {
	if encoded != "" {
		b, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.New("security." + name + ": not base64url")
		}
		if len(b) < 32 {
			return nil, errors.New("security." + name + ": shorter than 32 bytes")
		}
		return b, nil
	}
	logOut.Warnw("no key configured, using an ephemeral one", "key", name)
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
