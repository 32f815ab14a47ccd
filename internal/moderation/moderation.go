// internal/moderation/moderation.go
//
// Bulk approve/reject of a site's moderation queue.
//
// Context
// -------
// Every id is handled on its own.  The conditional close
// (UPDATE … WHERE closed = 0) is the only lock: two moderators racing on
// the same id see exactly one winner, and the loser records the id as
// not approved / not rejected without retrying.
//
// Approvals continue into the backend publish.  Anything but Published
// reopens the message so it returns to the queue.  The throttle window is
// not re-checked; a moderator approving a message overrides it.
package moderation

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"

	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/metrics"
)

// ErrAlreadyDecided is recorded for ids that are missing or were closed
// by someone else first.
var ErrAlreadyDecided = errors.New("message not found or already decided")

// Batch is one moderator submission.
type Batch struct {
	SiteID  int64
	Backend *backend.Instance
	Approve []int64
	Reject  []int64
	// Inputs are passed to every approval publish.
	Inputs url.Values
}

// Report lists per-id outcomes.  Every id in ToApprove ends in exactly
// one of Approved or NotApproved; likewise for ToReject.
type Report struct {
	ToApprove   []int64                  `json:"to_approve"`
	ToReject    []int64                  `json:"to_reject"`
	Approved    []int64                  `json:"approved"`
	Rejected    []int64                  `json:"rejected"`
	NotApproved []int64                  `json:"not_approved"`
	NotRejected []int64                  `json:"not_rejected"`
	Forms       map[int64][]backend.Form `json:"forms,omitempty"`
	Errors      map[int64]string         `json:"errors,omitempty"`
}

// Service processes batches.
type Service struct {
	Repo    message.Repository
	Gateway *backend.Gateway
}

// New returns a Service.
func New(repo message.Repository, gw *backend.Gateway) *Service {
	return &Service{Repo: repo, Gateway: gw}
}

// Process runs b.  Approve wins when an id is in both lists.
func (s *Service) Process(ctx context.Context, b Batch) Report {
	rep := Report{
		ToApprove:   dedupe(b.Approve, nil),
		Approved:    []int64{},
		Rejected:    []int64{},
		NotApproved: []int64{},
		NotRejected: []int64{},
		Forms:       map[int64][]backend.Form{},
		Errors:      map[int64]string{},
	}
	approve := make(map[int64]bool, len(rep.ToApprove))
	for _, id := range rep.ToApprove {
		approve[id] = true
	}
	rep.ToReject = dedupe(b.Reject, approve)

	for _, id := range rep.ToApprove {
		s.approve(ctx, b, id, &rep)
	}
	for _, id := range rep.ToReject {
		s.reject(ctx, b, id, &rep)
	}
	return rep
}

func (s *Service) approve(ctx context.Context, b Batch, id int64, rep *Report) {
	log := logger.FromContext(ctx)
	fail := func(msg string) {
		rep.NotApproved = append(rep.NotApproved, id)
		if msg != "" {
			rep.Errors[id] = msg
		}
		metrics.ModerationItemsTotal.WithLabelValues("not_approved").Inc()
	}

	ok, err := s.Repo.CloseIfOpen(ctx, b.SiteID, id, true)
	if err != nil {
		log.Errorw("moderation close failed", "message", id, "err", err)
		fail(err.Error())
		return
	}
	if !ok {
		fail(ErrAlreadyDecided.Error())
		return
	}
	m, err := s.Repo.Get(ctx, b.SiteID, id)
	if err != nil {
		log.Errorw("moderation load failed", "message", id, "err", err)
		s.revert(ctx, &message.Message{ID: id, SiteID: b.SiteID})
		fail(err.Error())
		return
	}

	inputs := url.Values{}
	for k, v := range b.Inputs {
		inputs[k] = append([]string(nil), v...)
	}
	inputs.Set(backend.InputMessageID, strconv.FormatInt(id, 10))

	res := s.Gateway.Publish(ctx, b.Backend, m.Text, inputs)
	switch res.Outcome {
	case backend.OutcomePublished:
		bid := b.Backend.Record.ID
		m.BackendID = &bid
		m.BackendReceipt = res.Receipt
		if err := s.Repo.Save(ctx, m); err != nil {
			log.Errorw("message published but not finalized", "message", id, "err", err)
			fail(err.Error())
			return
		}
		rep.Approved = append(rep.Approved, id)
		metrics.ModerationItemsTotal.WithLabelValues("approved").Inc()
		log.Infow("message approved", "message", id)
		return

	case backend.OutcomeNeedsInput:
		rep.Forms[id] = res.Forms
		s.revert(ctx, m)
		fail("")
		return
	}

	s.revert(ctx, m)
	msg := "publishing failed"
	if res.Err != nil {
		msg += ": " + res.Err.Error()
	}
	fail(msg)
}

func (s *Service) reject(ctx context.Context, b Batch, id int64, rep *Report) {
	ok, err := s.Repo.CloseIfOpen(ctx, b.SiteID, id, false)
	switch {
	case err != nil:
		logger.FromContext(ctx).Errorw("moderation close failed", "message", id, "err", err)
		rep.Errors[id] = err.Error()
	case !ok:
		rep.Errors[id] = ErrAlreadyDecided.Error()
	default:
		rep.Rejected = append(rep.Rejected, id)
		metrics.ModerationItemsTotal.WithLabelValues("rejected").Inc()
		return
	}
	rep.NotRejected = append(rep.NotRejected, id)
	metrics.ModerationItemsTotal.WithLabelValues("not_rejected").Inc()
}

// revert returns m to the queue.  A failure leaves the message closed and
// approved without a backend, which an operator must reconcile.
func (s *Service) revert(ctx context.Context, m *message.Message) {
	if err := s.Repo.Reopen(ctx, m); err != nil {
		logger.FromContext(ctx).Errorw("moderation revert failed", "message", m.ID, "err", err)
	}
}

// dedupe returns ids sorted, without duplicates or members of skip.
func dedupe(ids []int64, skip map[int64]bool) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] || skip[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
