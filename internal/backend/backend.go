// internal/backend/backend.go
//
// Backend publication contract.
//
// Context
// -------
// A backend is an external place accepted messages are republished to: a
// local file, a remote status feed, a webhook.  The publish lifecycle
// only ever sees the three-way Result below, whatever the backend does
// internally.
//
//   - NeedsInput – the backend wants more from the submitter (a captcha,
//     say).  The caller renders the forms and re-enters with the answers.
//   - Rejected   – the attempt failed.  The caller rolls back.
//   - Published  – done.  Receipt is opaque backend data to store.
//
// A submission may call Publish several times while a multi-step login
// handshake completes, so implementations must tolerate re-entry with the
// same text.
package backend

import (
	"context"
	"errors"
	"net/url"
)

// Outcome names the shape of a Result.
type Outcome string

const (
	OutcomeNeedsInput Outcome = "needs_input"
	OutcomeRejected   Outcome = "rejected"
	OutcomePublished  Outcome = "published"
)

// Result is what one publish attempt produced.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Forms   []Form  `json:"forms,omitempty"`
	Err     error   `json:"-"`
	Receipt string  `json:"receipt,omitempty"`
}

// NeedsInput asks the submitter to fill forms.
func NeedsInput(forms ...Form) Result {
	return Result{Outcome: OutcomeNeedsInput, Forms: forms}
}

// Rejected reports a failed attempt.
func Rejected(err error) Result {
	if err == nil {
		err = errors.New("rejected by backend")
	}
	return Result{Outcome: OutcomeRejected, Err: err}
}

// Published reports success with an opaque receipt.
func Published(receipt string) Result {
	return Result{Outcome: OutcomePublished, Receipt: receipt}
}

// Form is a sub-form a backend needs filled before it can publish.
type Form struct {
	Name   string  `json:"name"`
	Image  string  `json:"image,omitempty"` // e.g. captcha picture URL
	Error  string  `json:"error,omitempty"`
	Fields []Field `json:"fields"`
}

// Field describes one input, either of a sub-form or of a backend's
// parameter schema.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"` // text, password, hidden, url
	Value    string `json:"value,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// InputMessageID is the input carrying the local message id.  The
// lifecycle always sets it, so publishers can derive idempotency keys
// that survive re-entry.
const InputMessageID = "message_id"

// Publisher is an opened backend.
type Publisher interface {
	Publish(ctx context.Context, text string, inputs url.Values) Result
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, text string, inputs url.Values) Result

func (f PublisherFunc) Publish(ctx context.Context, text string, inputs url.Values) Result {
	return f(ctx, text, inputs)
}
