// internal/vault/vault.go
//
// Vault client wrapper for treehole.
//
// Context
// -------
// Backend credentials (a social account password, a webhook client
// secret) should not sit in plain text inside `backend.params`.  Any
// string parameter may instead hold a reference of the form
//
//	vault:<mount>/<path>#<key>     e.g. vault:secret/treehole/renren#password
//
// which Resolve swaps for the KV-v2 value at publish time.  Values are
// cached per reference for the configured TTL.
//
// Workflow
// --------
//  1. cli, err := vault.New(ctx, zap.S(), cfg.Vault.CacheTTL)   // boot.
//  2. pw, err := cli.Resolve(ctx, params.Password)               // backend.
//
// Environment: VAULT_ADDR, VAULT_TOKEN.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Prefix marks a parameter value as a Vault reference.
const Prefix = "vault:"

// ErrBadReference is returned for references without a path or key.
var ErrBadReference = errors.New("malformed vault reference")

// Resolver turns parameter values into secrets.  Backends depend on this
// interface; Passthrough serves deployments without Vault.
type Resolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// Passthrough returns plain values unchanged and refuses references.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, value string) (string, error) {
	if IsReference(value) {
		return "", fmt.Errorf("vault disabled, cannot resolve %q", value)
	}
	return value, nil
}

// IsReference reports whether value carries the vault: prefix.
func IsReference(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

//
// SECTION 1.  Client
//

// kvReader is the slice of the SDK the client needs.
type kvReader interface {
	Get(ctx context.Context, mount, path string) (map[string]any, error)
}

type sdkReader struct{ api *vault.Client }

func (r sdkReader) Get(ctx context.Context, mount, path string) (map[string]any, error) {
	sec, err := r.api.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return sec.Data, nil
}

// Client is safe for concurrent use.
type Client struct {
	api *vault.Client
	kv  kvReader
	log *zap.SugaredLogger
	ttl time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cached // reference → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

var _ Resolver = (*Client)(nil)

// New builds a client from VAULT_* env vars and starts token renewal,
// which stops when ctx is cancelled.
func New(ctx context.Context, log *zap.SugaredLogger, ttl time.Duration) (*Client, error) {
	if log == nil {
		log = zap.S()
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	c := newClient(sdkReader{apiCli}, log, ttl)
	c.api = apiCli
	go c.renewLoop(ctx)
	return c, nil
}

func newClient(kv kvReader, log *zap.SugaredLogger, ttl time.Duration) *Client {
	return &Client{kv: kv, log: log, ttl: ttl, cache: make(map[string]cached)}
}

// Resolve returns value unchanged unless it is a vault: reference.
func (c *Client) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	ref := strings.TrimPrefix(value, Prefix)

	if c.ttl > 0 {
		c.cacheMu.RLock()
		cv, ok := c.cache[ref]
		c.cacheMu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, path, key, err := splitReference(ref)
	if err != nil {
		return "", err
	}
	data, err := c.kv.Get(ctx, mount, path)
	if err != nil {
		return "", fmt.Errorf("vault get %s/%s: %w", mount, path, err)
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %s/%s", key, mount, path)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", ref)
	}

	if c.ttl > 0 {
		c.cacheMu.Lock()
		c.cache[ref] = cached{val: sval, exp: time.Now().Add(c.ttl)}
		c.cacheMu.Unlock()
	}
	return sval, nil
}

//
// SECTION 2.  Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.log.Warnw("vault token renew failed", "err", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.log.Infow("vault token not renewable, sleeping")
			backoff(ctx, time.Hour)
			continue
		}

		watcher, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
			Secret: sec,
		})
		if err != nil {
			c.log.Warnw("vault watcher init failed", "err", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		c.watch(ctx, watcher)
	}
}

func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	go w.Start()
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warnw("vault token renewal stopped", "err", err)
			}
			backoff(ctx, 15*time.Second)
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debugw("vault token renewed", "ttl_seconds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

//
// SECTION 3.  Helpers
//

// splitReference parses "mount/path/to/secret#key".
func splitReference(ref string) (mount, path, key string, err error) {
	loc, key, ok := strings.Cut(ref, "#")
	if !ok || key == "" {
		return "", "", "", fmt.Errorf("%w: %q needs #key", ErrBadReference, ref)
	}
	mount, path, ok = strings.Cut(loc, "/")
	if !ok || mount == "" || path == "" {
		return "", "", "", fmt.Errorf("%w: %q needs mount/path", ErrBadReference, ref)
	}
	return mount, path, key, nil
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
