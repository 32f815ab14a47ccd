// internal/publish/publish.go
//
// Submission lifecycle of a single message.
//
// Context
// -------
// A submission is evaluated by the site's access policy and then walks:
//
//	reject / throttle → nothing stored                       (StateDenied)
//	moderate          → stored open, no backend call         (StateQueued)
//	accept            → reserved closed, throttle confirmed,
//	                    then published through the gateway:
//	                      needs input → kept pending         (StatePending)
//	                      rejected    → deleted              (StateRolledBack)
//	                      published   → approved + receipt   (StateFinalized)
//	                    confirmation failed → left pending   (StateConflict)
//
// The reservation and the confirmation share one InSite scope so the
// confirm query runs under the site row lock.  The scope commits even
// when confirmation fails: the reserved row is evidence for the operator.
//
// Continue re-enters a pending submission after the submitter filled the
// backend's sub-forms.  The policy is not re-run, since the reserved row
// itself occupies any throttle window, but the window is confirmed again
// before publishing.
//
// Notes
// -----
//   - Denials are ordinary Outcomes.  Only store failures return errors.
//   - Finalize and rollback only touch a still-pending row.  Whichever of
//     two racing continuations lands second gets ErrNotPending.
//   - A store failure after a successful publish leaves the row pending
//     and is logged at Error for reconciliation.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/yanizio/treehole/internal/access"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/metrics"
)

// State is where a submission ended up after one request.
type State string

const (
	StateDenied     State = "denied"
	StateQueued     State = "queued"
	StatePending    State = "pending"
	StateFinalized  State = "finalized"
	StateRolledBack State = "rolled_back"
	StateConflict   State = "conflict"
)

var (
	// ErrConcurrent is the user-facing text of StateConflict.
	ErrConcurrent = errors.New("another submission from your address is in progress, please retry")
	// ErrNotPending is returned by Continue for a message that is missing,
	// already decided, reserved by a different identity, or no longer the
	// only live message in its throttle window.
	ErrNotPending = errors.New("message is not awaiting publication")
)

// Request is one submission attempt against a resolved site.
type Request struct {
	SiteID  int64
	Policy  *access.Policy
	Backend *backend.Instance
	// Addr is the client network address.
	Addr string
	Text string
	// MessageID names the pending message for Continue.
	MessageID int64
	// Inputs are the submitter's answers to backend sub-forms.
	Inputs url.Values
}

// Outcome is what the caller renders.
type Outcome struct {
	State     State           `json:"state"`
	Decision  access.Decision `json:"decision,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	Forms     []backend.Form  `json:"forms,omitempty"`
	// Error is field-level text for the submission form.
	Error   string           `json:"error,omitempty"`
	Message *message.Message `json:"-"`
}

// Service runs submissions.
type Service struct {
	Repo    message.Repository
	Gateway *backend.Gateway
	// Now defaults to time.Now.
	Now func() time.Time
}

// New returns a Service over repo and gw.
func New(repo message.Repository, gw *backend.Gateway) *Service {
	return &Service{Repo: repo, Gateway: gw}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit evaluates req and drives the new message as far as it can go in
// this request.
func (s *Service) Submit(ctx context.Context, req Request) (Outcome, error) {
	log := logger.FromContext(ctx)

	pol := req.Policy
	if pol == nil {
		pol = &access.Policy{SiteID: req.SiteID, Err: access.ErrInvalidRule}
	}
	res, err := pol.Evaluate(ctx, s.Repo, req.Addr, req.Text)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Decision: res.Decision, Identity: res.Identity}

	switch res.Decision {
	case access.Reject, access.Throttle:
		out.State = StateDenied
		return out, nil

	case access.Moderate:
		m := &message.Message{
			SiteID:    req.SiteID,
			CreatedAt: s.now(),
			Identity:  res.Identity,
			Text:      req.Text,
		}
		if err := s.Repo.Save(ctx, m); err != nil {
			return Outcome{}, err
		}
		log.Infow("message queued for moderation", "message", m.ID, "identity", res.Identity)
		out.State = StateQueued
		out.MessageID = m.ID
		out.Message = m
		return out, nil
	}

	// accept
	m := &message.Message{
		SiteID:    req.SiteID,
		CreatedAt: s.now(),
		Identity:  res.Identity,
		Text:      req.Text,
		Closed:    true,
	}
	var (
		confirmed bool
		anomaly   error
	)
	err = s.Repo.InSite(ctx, req.SiteID, func(r message.Repository) error {
		if err := r.Save(ctx, m); err != nil {
			return err
		}
		ok, err := access.Confirm(ctx, r, res.Check, m)
		switch {
		case errors.Is(err, access.ErrAnomaly):
			anomaly = err
		case err != nil:
			return err
		}
		confirmed = ok
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve message: %w", err)
	}
	out.Message = m

	if !confirmed {
		metrics.ConcurrencyAnomaliesTotal.Inc()
		log.Errorw("throttle confirmation failed, message left pending",
			"message", m.ID, "identity", res.Identity, "err", anomaly)
		// The reservation is the operator's to reconcile; the submitter
		// gets no handle to continue it.
		out.State = StateConflict
		out.Error = ErrConcurrent.Error()
		return out, nil
	}
	out.MessageID = m.ID

	return s.publish(ctx, req, m, out)
}

// Continue re-runs the publish step for the pending message
// req.MessageID.  The throttle window is confirmed again under the site
// lock first, so a reservation that lost its confirmation can never be
// published this way.
func (s *Service) Continue(ctx context.Context, req Request) (Outcome, error) {
	log := logger.FromContext(ctx)

	m, err := s.Repo.Get(ctx, req.SiteID, req.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			return Outcome{}, ErrNotPending
		}
		return Outcome{}, err
	}
	if !m.Pending() || m.BackendID != nil || req.Policy == nil {
		return Outcome{}, ErrNotPending
	}
	check, ident, ok := req.Policy.CheckAt(req.Addr, m.CreatedAt)
	if !ok || ident != m.Identity {
		return Outcome{}, ErrNotPending
	}

	var confirmed bool
	err = s.Repo.InSite(ctx, req.SiteID, func(r message.Repository) error {
		cur, err := r.Get(ctx, req.SiteID, m.ID)
		switch {
		case errors.Is(err, message.ErrNotFound):
			return nil
		case err != nil:
			return err
		case !cur.Pending() || cur.BackendID != nil:
			return nil
		}
		ok, err := access.Confirm(ctx, r, check, cur)
		switch {
		case errors.Is(err, access.ErrAnomaly):
			log.Errorw("throttle confirmation anomaly on continue", "message", m.ID, "err", err)
			return nil
		case err != nil:
			return err
		}
		confirmed = ok
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("confirm message: %w", err)
	}
	if !confirmed {
		return Outcome{}, ErrNotPending
	}

	out := Outcome{
		Decision:  access.Accept,
		Identity:  m.Identity,
		MessageID: m.ID,
		Message:   m,
	}
	return s.publish(ctx, req, m, out)
}

func (s *Service) publish(ctx context.Context, req Request, m *message.Message, out Outcome) (Outcome, error) {
	log := logger.FromContext(ctx)

	inputs := url.Values{}
	for k, v := range req.Inputs {
		inputs[k] = append([]string(nil), v...)
	}
	inputs.Set(backend.InputMessageID, strconv.FormatInt(m.ID, 10))

	res := s.Gateway.Publish(ctx, req.Backend, m.Text, inputs)
	switch res.Outcome {
	case backend.OutcomeNeedsInput:
		out.State = StatePending
		out.Forms = res.Forms
		return out, nil

	case backend.OutcomePublished:
		id := req.Backend.Record.ID
		m.BackendID = &id
		m.BackendReceipt = res.Receipt
		ok, err := s.Repo.Finalize(ctx, m)
		if err != nil {
			log.Errorw("message published but not finalized", "message", m.ID, "err", err)
			return Outcome{}, err
		}
		if !ok {
			metrics.ConcurrencyAnomaliesTotal.Inc()
			log.Errorw("message published but no longer pending",
				"message", m.ID, "receipt", res.Receipt)
			return Outcome{}, ErrNotPending
		}
		out.State = StateFinalized
		return out, nil
	}

	ok, err := s.Repo.DeletePending(ctx, m)
	if err != nil {
		log.Errorw("rollback after backend rejection failed", "message", m.ID, "err", err)
		return Outcome{}, err
	}
	if !ok {
		// Another continuation decided the message first.
		log.Warnw("rollback skipped, message no longer pending", "message", m.ID, "err", res.Err)
		return Outcome{}, ErrNotPending
	}
	out.State = StateRolledBack
	out.Message = nil
	out.MessageID = 0
	out.Error = "publishing failed"
	if res.Err != nil {
		out.Error += ": " + res.Err.Error()
	}
	return out, nil
}
