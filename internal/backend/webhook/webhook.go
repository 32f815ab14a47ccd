// internal/backend/webhook/webhook.go
//
// "webhook" backend: POSTs each message as JSON to a configured URL.
//
// Context
// -------
// The body is {"text": "...", "message_id": 12, "site": "slug"} and the
// request carries an Idempotency-Key header.  When the lifecycle supplies
// a message id the key is a UUIDv5 of backend id + message id, so a
// resubmission after a timeout or a NeedsInput round trip is
// recognisable on the receiving side.  Without one it is a random UUID.
//
// Any 2xx is Published; the receipt is the response's "id" field when
// present.  Everything else is Rejected.
//
// Optional OAuth2 client-credentials auth: set token-url, client-id, and
// client-secret (which may be a vault: reference).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/vault"
)

// Key is the registry type key.
const Key = "webhook"

// namespace seeds deterministic idempotency keys.
var namespace = uuid.MustParse("6f1c1f9e-3b7a-4d0e-9a55-0f3c2b8e4a11")

// Params is the JSON shape of backend.params.
type Params struct {
	URL          string   `json:"url"           validate:"required,url"`
	TokenURL     string   `json:"token-url"     validate:"omitempty,url"`
	ClientID     string   `json:"client-id"     validate:"required_with=TokenURL"`
	ClientSecret string   `json:"client-secret" validate:"required_with=TokenURL"`
	Scopes       []string `json:"scopes"`
}

// Deps are shared by every webhook backend.
type Deps struct {
	Secrets vault.Resolver
	HTTP    *http.Client
}

// Kind returns the registry entry.
func Kind(d Deps) backend.Kind {
	if d.Secrets == nil {
		d.Secrets = vault.Passthrough{}
	}
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}
	return backend.Kind{
		Key:   Key,
		Label: "Webhook",
		Fields: []backend.Field{
			{Name: "url", Label: "Endpoint URL", Type: "url", Required: true},
			{Name: "token-url", Label: "OAuth2 token URL", Type: "url"},
			{Name: "client-id", Label: "OAuth2 client id", Type: "text"},
			{Name: "client-secret", Label: "OAuth2 client secret", Type: "password"},
		},
		New: func(rec backend.Record) (backend.Publisher, error) {
			var p Params
			if err := backend.DecodeParams(rec, &p); err != nil {
				return nil, err
			}
			return &Hook{id: rec.ID, params: p, deps: d}, nil
		},
	}
}

// Hook is one opened webhook backend.
type Hook struct {
	id     int64
	params Params
	deps   Deps

	mu     sync.Mutex
	client *http.Client // OAuth2-wrapped, built on first use
}

type payload struct {
	Text      string `json:"text"`
	MessageID int64  `json:"message_id,omitempty"`
	Site      string `json:"site,omitempty"`
}

// Publish delivers text.  inputs may carry message_id and site.
func (h *Hook) Publish(ctx context.Context, text string, in url.Values) backend.Result {
	cli, err := h.httpClient(ctx)
	if err != nil {
		return backend.Rejected(err)
	}

	msgID, _ := strconv.ParseInt(in.Get(backend.InputMessageID), 10, 64)
	body, err := json.Marshal(payload{Text: text, MessageID: msgID, Site: in.Get("site")})
	if err != nil {
		return backend.Rejected(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.params.URL, bytes.NewReader(body))
	if err != nil {
		return backend.Rejected(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", h.idempotencyKey(msgID))

	resp, err := cli.Do(req)
	if err != nil {
		return backend.Rejected(fmt.Errorf("webhook: %w", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backend.Rejected(fmt.Errorf("webhook: status %d", resp.StatusCode))
	}
	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(raw, &out) == nil && len(out.ID) > 0 {
		var s string
		if json.Unmarshal(out.ID, &s) == nil {
			return backend.Published(s)
		}
		return backend.Published(string(out.ID))
	}
	return backend.Published("")
}

func (h *Hook) idempotencyKey(msgID int64) string {
	if msgID == 0 {
		return uuid.NewString()
	}
	name := strconv.FormatInt(h.id, 10) + ":" + strconv.FormatInt(msgID, 10)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// httpClient returns the plain client, or an OAuth2 client built once the
// client secret has been resolved.
func (h *Hook) httpClient(ctx context.Context) (*http.Client, error) {
	if h.params.TokenURL == "" {
		return h.deps.HTTP, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}

	secret, err := h.deps.Secrets.Resolve(ctx, h.params.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("resolve client secret: %w", err)
	}
	creds := &clientcredentials.Config{
		ClientID:     h.params.ClientID,
		ClientSecret: secret,
		TokenURL:     h.params.TokenURL,
		Scopes:       h.params.Scopes,
	}
	// The token source outlives this request, so it gets its own context.
	base := context.WithValue(context.Background(), oauth2.HTTPClient, h.deps.HTTP)
	h.client = creds.Client(base)
	return h.client, nil
}
