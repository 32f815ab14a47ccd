// internal/message/message.go
//
// Message model and repository contract.
//
// Context
// -------
// A Message is one anonymous submission to a site.  Its publication
// state is carried by two columns:
//
//   - Closed   – no further mutation is permitted (except the moderation
//     outcome).  Set before a backend publish attempt so that concurrent
//     throttle checks see the reservation.
//   - Approved – NULL while undecided, true once published, false when a
//     moderator rejected it.  Meaningful only when Closed.
//
// A closed message with Approved == nil and no BackendID is the transient
// pending-publish state.  When it outlives the request it is an orphan an
// operator must reconcile.
package message

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no message matches site and id.
var ErrNotFound = errors.New("message not found")

// Message mirrors one row in the `message` table.
type Message struct {
	ID             int64     `db:"id"`
	SiteID         int64     `db:"site_id"`
	CreatedAt      time.Time `db:"created_at"`
	Identity       string    `db:"identity"`
	Text           string    `db:"text"`
	Closed         bool      `db:"closed"`
	Approved       *bool     `db:"approved"`
	BackendID      *int64    `db:"backend_id"`
	BackendReceipt string    `db:"backend_receipt"`
}

// Pending reports whether m is reserved for a publish attempt that has not
// finished.
func (m *Message) Pending() bool {
	return m.Closed && m.Approved == nil
}

// Finalized reports whether m carries a final outcome.
func (m *Message) Finalized() bool {
	return m.Closed && m.Approved != nil
}

// Order selects the sort direction on created_at.
type Order string

const (
	NewestFirst Order = "-created_at"
	OldestFirst Order = "created_at"
)

// Filter narrows Find.  Zero fields do not filter.
type Filter struct {
	Closed   *bool
	Approved *bool
	// Undecided selects approved IS NULL; it wins over Approved.
	Undecided bool
	Identity  string
	// After selects created_at strictly greater than the given instant.
	After time.Time
	// Live selects closed messages a moderator has not rejected, i.e. the
	// ones that count against a throttle window.
	Live  bool
	Order Order
	Limit int
}

// Finder is the read side used by the access policy.
type Finder interface {
	Find(ctx context.Context, siteID int64, f Filter) ([]Message, error)
}

// Repository is the message store consumed by the publish lifecycle and
// moderation batch.
//
// InSite runs fn against a view of the store with the strongest
// consistency available for "all messages of this site": the SQL
// implementation opens a transaction and locks the site row, so two
// InSite scopes for the same site never interleave.  fn's error rolls the
// scope back; a nil return commits it.
type Repository interface {
	Finder
	Get(ctx context.Context, siteID, id int64) (*Message, error)
	// Save inserts m when m.ID == 0 (filling ID) and updates it otherwise.
	Save(ctx context.Context, m *Message) error
	// Finalize marks a pending m published with m.BackendID and
	// m.BackendReceipt.  DeletePending rolls a pending m back.  Both report
	// false when m is no longer pending.
	Finalize(ctx context.Context, m *Message) (bool, error)
	DeletePending(ctx context.Context, m *Message) (bool, error)
	// CloseIfOpen atomically flips closed 0→1 with the given approved
	// value.  It reports false when the message is gone or already closed.
	CloseIfOpen(ctx context.Context, siteID, id int64, approved bool) (bool, error)
	// Reopen reverts a moderation toggle: closed = 0, approved = NULL.
	Reopen(ctx context.Context, m *Message) error
	InSite(ctx context.Context, siteID int64, fn func(Repository) error) error
}

// BoolPtr is a small helper for building filters and tri-state values.
func BoolPtr(b bool) *bool { return &b }
