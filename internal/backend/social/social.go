// internal/backend/social/social.go
//
// "social" backend: posts each message as a status update on a remote
// social network account.
//
// Context
// -------
// The remote side wants a captcha-protected login before it hands out a
// session token, so publishing is a small handshake:
//
//  1. No cached token → fetch a captcha and return NeedsInput.  The
//     submitter answers and the lifecycle calls Publish again with
//     captcha_key / captcha in inputs.
//  2. Log in, cache the token in the SessionStore, post the status.
//  3. A cached token the remote side rejects (401) is dropped and the
//     login is forced once more, which again may need a captcha.  A
//     second failure is final: Rejected.
//
// Remote protocol
// ---------------
//
//	GET  {base}/captcha  → {"key": "...", "image": "https://..."}
//	POST {base}/login    form username, password, captcha_key, captcha
//	                     → {"token": "..."}
//	POST {base}/status   Authorization: Bearer <token>, form status
//	                     → {"id": "..."}  (401 when the token expired)
//
// The password may be a vault: reference.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/vault"
)

// Key is the registry type key.
const Key = "social"

// Input names of the captcha sub-form.
const (
	InputCaptchaKey = "captcha_key"
	InputCaptcha    = "captcha"
)

// ErrSessionExpired marks a status post refused for authentication.
var ErrSessionExpired = errors.New("remote session expired")

// Params is the JSON shape of backend.params.
type Params struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	BaseURL  string `json:"base-url" validate:"required,url"`
}

// Deps are the process-wide collaborators every social backend shares.
type Deps struct {
	Sessions SessionStore
	Secrets  vault.Resolver
	HTTP     *http.Client
}

// Kind returns the registry entry.
func Kind(d Deps) backend.Kind {
	if d.Secrets == nil {
		d.Secrets = vault.Passthrough{}
	}
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}
	if d.Sessions == nil {
		d.Sessions = NewMemorySessions(64, time.Hour)
	}
	return backend.Kind{
		Key:   Key,
		Label: "Social network status",
		Fields: []backend.Field{
			{Name: "username", Label: "Username", Type: "text", Required: true},
			{Name: "password", Label: "Password", Type: "password", Required: true},
			{Name: "base-url", Label: "Base URL", Type: "url", Required: true},
		},
		New: func(rec backend.Record) (backend.Publisher, error) {
			var p Params
			if err := backend.DecodeParams(rec, &p); err != nil {
				return nil, err
			}
			return &Client{
				params:  p,
				base:    strings.TrimRight(p.BaseURL, "/"),
				session: "backend:" + strconv.FormatInt(rec.ID, 10) + ":" + p.Username,
				deps:    d,
			}, nil
		},
	}
}

// Client is one opened social backend.
type Client struct {
	params  Params
	base    string
	session string // SessionStore key
	deps    Deps
}

// Publish runs the handshake described in the file header.
func (c *Client) Publish(ctx context.Context, text string, in url.Values) backend.Result {
	log := logger.FromContext(ctx)

	token, cached, err := c.deps.Sessions.Get(ctx, c.session)
	if err != nil {
		log.Warnw("social session lookup failed", "err", err)
		cached = false
	}
	if !cached {
		var res *backend.Result
		if token, res = c.login(ctx, in); res != nil {
			return *res
		}
	}

	receipt, err := c.post(ctx, token, text)
	if err == nil {
		return backend.Published(receipt)
	}
	if !cached || !errors.Is(err, ErrSessionExpired) {
		return backend.Rejected(err)
	}

	// Stale cached token: one forced refresh.
	log.Infow("social session stale, forcing login", "session", c.session)
	if err := c.deps.Sessions.Delete(ctx, c.session); err != nil {
		log.Warnw("social session delete failed", "err", err)
	}
	var res *backend.Result
	if token, res = c.login(ctx, in); res != nil {
		return *res
	}
	if receipt, err = c.post(ctx, token, text); err != nil {
		return backend.Rejected(fmt.Errorf("status rejected after fresh login: %w", err))
	}
	return backend.Published(receipt)
}

// login returns a token, or a non-nil Result the caller must return.
func (c *Client) login(ctx context.Context, in url.Values) (string, *backend.Result) {
	key, answer := in.Get(InputCaptchaKey), in.Get(InputCaptcha)
	if key == "" || answer == "" {
		return "", c.challenge(ctx, "")
	}

	password, err := c.deps.Secrets.Resolve(ctx, c.params.Password)
	if err != nil {
		res := backend.Rejected(fmt.Errorf("resolve password: %w", err))
		return "", &res
	}

	var out struct {
		Token string `json:"token"`
	}
	status, err := c.do(ctx, http.MethodPost, "/login", "", url.Values{
		"username":      {c.params.Username},
		"password":      {password},
		InputCaptchaKey: {key},
		InputCaptcha:    {answer},
	}, &out)
	if err != nil && status == 0 {
		res := backend.Rejected(fmt.Errorf("login: %w", err))
		return "", &res
	}
	if err != nil || out.Token == "" {
		return "", c.challenge(ctx, "Login failed. Incorrect captcha?")
	}

	if err := c.deps.Sessions.Set(ctx, c.session, out.Token); err != nil {
		logger.FromContext(ctx).Warnw("social session store failed", "err", err)
	}
	return out.Token, nil
}

// challenge fetches a fresh captcha and wraps it in a NeedsInput result.
func (c *Client) challenge(ctx context.Context, errText string) *backend.Result {
	var out struct {
		Key   string `json:"key"`
		Image string `json:"image"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/captcha", "", nil, &out); err != nil || out.Key == "" {
		if err == nil {
			err = errors.New("empty captcha key")
		}
		res := backend.Rejected(fmt.Errorf("captcha: %w", err))
		return &res
	}
	res := backend.NeedsInput(backend.Form{
		Name:  "social-login",
		Image: out.Image,
		Error: errText,
		Fields: []backend.Field{
			{Name: InputCaptchaKey, Type: "hidden", Value: out.Key},
			{Name: InputCaptcha, Label: "Verification code", Type: "text", Required: true},
		},
	})
	return &res
}

func (c *Client) post(ctx context.Context, token, text string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, http.MethodPost, "/status", token, url.Values{"status": {text}}, &out)
	if status == http.StatusUnauthorized {
		return "", ErrSessionExpired
	}
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	return out.ID, nil
}

// do sends one request and decodes a 200 JSON body into out.  It returns
// the HTTP status (0 on transport errors).
func (c *Client) do(ctx context.Context, method, path, token string, form url.Values, out any) (int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.deps.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return resp.StatusCode, nil
}
