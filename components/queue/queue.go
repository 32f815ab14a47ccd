// components/queue/queue.go
//
// Moderation endpoints.  Both routes sit behind acl.RequireOwner.
//
// Context
// -------
//
//	GET  /moderate  – list messages, filtered by ?closed=, ?approved=
//	                  (true, false, or null), ?identity=, ordered by
//	                  ?order=created_at or -created_at.  The default view
//	                  is the open queue, newest first.
//	POST /moderate  – approve[] and reject[] ids, plus any backend
//	                  sub-form answers, run as one moderation batch.
package queue

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yanizio/treehole/internal/form"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/moderation"
	"github.com/yanizio/treehole/internal/response"
	"github.com/yanizio/treehole/internal/tenant"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Handler serves the moderation queue.
type Handler struct {
	Finder  message.Finder
	Service *moderation.Service
	CSRF    *form.CSRF
}

type item struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Identity  string    `json:"identity"`
	Text      string    `json:"text"`
	Closed    bool      `json:"closed"`
	Approved  *bool     `json:"approved"`
	Receipt   string    `json:"receipt,omitempty"`
}

// List writes the filtered messages of the resolved site.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		response.WriteError(w, http.StatusNotFound, "no such site")
		return
	}
	f, errs := parseFilter(r.URL.Query())
	if len(errs) > 0 {
		response.WriteFieldErrors(w, errs)
		return
	}

	rows, err := h.Finder.Find(r.Context(), t.Site.ID, f)
	if err != nil {
		logger.FromContext(r.Context()).Errorw("moderation list", "err", err)
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	out := make([]item, 0, len(rows))
	for _, m := range rows {
		out = append(out, item{
			ID: m.ID, CreatedAt: m.CreatedAt, Identity: m.Identity, Text: m.Text,
			Closed: m.Closed, Approved: m.Approved, Receipt: m.BackendReceipt,
		})
	}
	tok, err := h.CSRF.Token()
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"messages":   out,
		"csrf_token": tok,
	})
}

// Process runs the posted batch.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		response.WriteError(w, http.StatusNotFound, "no such site")
		return
	}
	if err := r.ParseForm(); err != nil {
		response.WriteError(w, http.StatusBadRequest, "malformed form")
		return
	}
	approve, errs := form.IDs("approve", r.PostForm["approve"])
	reject, rerrs := form.IDs("reject", r.PostForm["reject"])
	if errs = append(errs, rerrs...); len(errs) > 0 {
		response.WriteFieldErrors(w, errs)
		return
	}

	inputs := url.Values{}
	for k, v := range r.PostForm {
		switch k {
		case "approve", "reject", form.FieldCSRF:
			continue
		}
		inputs[k] = v
	}

	rep := h.Service.Process(r.Context(), moderation.Batch{
		SiteID:  t.Site.ID,
		Backend: t.Backend,
		Approve: approve,
		Reject:  reject,
		Inputs:  inputs,
	})
	response.WriteJSON(w, http.StatusOK, rep)
}

func parseFilter(q url.Values) (message.Filter, form.Errors) {
	f := message.Filter{
		Closed: message.BoolPtr(false),
		Order:  message.NewestFirst,
		Limit:  defaultLimit,
	}
	var errs form.Errors

	if v := q.Get("closed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, form.ErrorField{Name: "closed", Message: "Must be true or false."})
		}
		f.Closed = &b
	}
	switch v := q.Get("approved"); v {
	case "":
	case "null":
		f.Undecided = true
	default:
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, form.ErrorField{Name: "approved", Message: "Must be true, false, or null."})
		}
		f.Approved = &b
	}
	f.Identity = q.Get("identity")
	switch o := message.Order(q.Get("order")); o {
	case "":
	case message.NewestFirst, message.OldestFirst:
		f.Order = o
	default:
		errs = append(errs, form.ErrorField{Name: "order", Message: "Must be created_at or -created_at."})
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLimit {
			errs = append(errs, form.ErrorField{Name: "limit", Message: "Must be between 1 and 500."})
		}
		f.Limit = n
	}
	return f, errs
}
