// internal/access/throttle.go
//
// Commit-time throttle confirmation.
//
// Context
// -------
// Evaluate reads the message table without locks, so two simultaneous
// submissions from one identity can both see an empty window.  The
// publish lifecycle therefore inserts its message first and then calls
// Confirm inside message.Repository.InSite, where every confirmation for
// the site is serialised.  Exactly one live message in the window (the
// candidate itself) means the submission won; two or more means another
// request got there first.  A candidate missing from its own window fails
// closed with ErrAnomaly instead of confirming.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yanizio/treehole/internal/message"
)

// ErrAnomaly reports message counts that cannot happen under a correct
// isolation model: the candidate is missing from its own window, or a
// different message holds the window's only slot.
var ErrAnomaly = errors.New("throttle confirmation anomaly")

// ThrottleCheck is the query a decision was made with.  The zero value is
// disabled and always confirms.
type ThrottleCheck struct {
	SiteID   int64
	Identity string
	// Since is the exclusive lower bound on created_at, fixed when the
	// decision was made.
	Since time.Time
}

// Enabled reports whether a throttle rule was in play.
func (c ThrottleCheck) Enabled() bool {
	return c.Identity != "" && !c.Since.IsZero()
}

// Confirm re-runs c against f.  candidate is the message just reserved by
// the caller, or nil for a plain re-check.
//
//	matches  candidate     result
//	-------  ------------  ----------------
//	0        nil           true
//	0        set           ErrAnomaly
//	1        nil / same    true
//	1        different     ErrAnomaly
//	≥ 2      any           false
func Confirm(ctx context.Context, f message.Finder, c ThrottleCheck, candidate *message.Message) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}

	live, err := f.Find(ctx, c.SiteID, message.Filter{
		Identity: c.Identity,
		After:    c.Since,
		Live:     true,
		Order:    message.OldestFirst,
		Limit:    2,
	})
	if err != nil {
		return false, fmt.Errorf("throttle confirm: %w", err)
	}

	switch len(live) {
	case 0:
		if candidate != nil {
			return false, fmt.Errorf("%w: message %d missing from window of %q",
				ErrAnomaly, candidate.ID, c.Identity)
		}
		return true, nil
	case 1:
		if candidate != nil && live[0].ID != candidate.ID {
			return false, fmt.Errorf("%w: window of %q holds message %d, expected %d",
				ErrAnomaly, c.Identity, live[0].ID, candidate.ID)
		}
		return true, nil
	default:
		return false, nil
	}
}
