// components/board/board.go
//
// Submission endpoints of a backend site.
//
// Context
// -------
//
//	GET  /  – pre-check: may this address submit at all?  Returns the
//	          access level, the identity token, and a CSRF token.
//	POST /  – submit text, or continue a pending submission with the
//	          answers to a backend sub-form (message_id + fields).
//
// Every outcome is a JSON payload.  Denials are 403, field errors 422,
// conflicts 409.  A 5xx only ever means the store failed.
package board

import (
	"errors"
	"net/http"

	"github.com/yanizio/treehole/internal/access"
	"github.com/yanizio/treehole/internal/form"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/publish"
	"github.com/yanizio/treehole/internal/requestinfo"
	"github.com/yanizio/treehole/internal/response"
	"github.com/yanizio/treehole/internal/tenant"
)

// Handler serves one process's submission endpoints for every site.
type Handler struct {
	Service    *publish.Service
	Finder     message.Finder
	CSRF       *form.CSRF
	MaxText    int
	RejectBots bool
}

type precheck struct {
	Site      string          `json:"site"`
	Decision  access.Decision `json:"decision"`
	Identity  string          `json:"identity,omitempty"`
	CSRFToken string          `json:"csrf_token,omitempty"`
	MaxLength int             `json:"max_length,omitempty"`
}

type outcome struct {
	publish.Outcome
	CSRFToken string `json:"csrf_token,omitempty"`
}

// Form answers the pre-check for the resolved site.
func (h *Handler) Form(w http.ResponseWriter, r *http.Request) {
	t, info, ok := h.resolve(w, r)
	if !ok {
		return
	}

	res, err := t.Policy.Precheck(r.Context(), h.Finder, info.Addr)
	if err != nil {
		logger.FromContext(r.Context()).Errorw("precheck failed", "err", err)
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	body := precheck{Site: t.Site.Label, Decision: res.Decision, Identity: res.Identity}
	if res.Decision != access.Accept {
		response.WriteJSON(w, http.StatusForbidden, body)
		return
	}
	tok, err := h.CSRF.Token()
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}
	body.CSRFToken = tok
	body.MaxLength = h.MaxText
	response.WriteJSON(w, http.StatusOK, body)
}

// Submit runs a new submission or continues a pending one.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	t, info, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		response.WriteError(w, http.StatusBadRequest, "malformed form")
		return
	}
	sub, errs := form.ParseSubmission(r.PostForm, h.MaxText)
	if len(errs) > 0 {
		response.WriteFieldErrors(w, errs)
		return
	}

	req := publish.Request{
		SiteID:    t.Site.ID,
		Policy:    t.Policy,
		Backend:   t.Backend,
		Addr:      info.Addr,
		Text:      sub.Text,
		MessageID: sub.MessageID,
		Inputs:    sub.Inputs,
	}
	var (
		out publish.Outcome
		err error
	)
	if sub.MessageID != 0 {
		out, err = h.Service.Continue(r.Context(), req)
	} else {
		out, err = h.Service.Submit(r.Context(), req)
	}
	if errors.Is(err, publish.ErrNotPending) {
		response.WriteFieldErrors(w, form.Errors{{Name: form.FieldMessageID, Message: err.Error()}})
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Errorw("submission failed", "err", err)
		response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}

	body := outcome{Outcome: out}
	status := http.StatusOK
	switch out.State {
	case publish.StateDenied:
		status = http.StatusForbidden
	case publish.StateQueued:
		status = http.StatusAccepted
	case publish.StateFinalized:
		status = http.StatusCreated
	case publish.StateConflict:
		status = http.StatusConflict
	case publish.StateRolledBack:
		status = http.StatusUnprocessableEntity
	case publish.StatePending:
		// The sub-form posts back, so it needs a fresh token.
		if body.CSRFToken, err = h.CSRF.Token(); err != nil {
			response.WriteError(w, http.StatusInternalServerError, "temporarily unavailable")
			return
		}
	}
	response.WriteJSON(w, status, body)
}

// resolve checks the request targets a backend site and carries a usable
// client.  It writes the error response itself when it returns false.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*tenant.Tenant, *requestinfo.RequestInfo, bool) {
	t := tenant.FromContext(r.Context())
	if t == nil || t.IsMeta() {
		response.WriteError(w, http.StatusNotFound, "no such site")
		return nil, nil, false
	}
	info := requestinfo.FromContext(r.Context())
	if info == nil {
		info = &requestinfo.RequestInfo{}
	}
	if h.RejectBots && info.UA.IsBot {
		response.WriteJSON(w, http.StatusForbidden, precheck{Site: t.Site.Label, Decision: access.Reject})
		return nil, nil, false
	}
	return t, info, true
}
