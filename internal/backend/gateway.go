// internal/backend/gateway.go
//
// Gateway is the single entry point the publish lifecycle and moderation
// batch use to reach a backend.
//
// Notes
// -----
//   - Every call runs under Timeout.  A publisher that does not return in
//     time yields Rejected(ErrTimeout); its goroutine is left to finish on
//     its own and its late result is dropped.
//   - A panicking publisher yields Rejected, never a crashed request.
//   - Outcomes and latency are recorded per backend kind.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/metrics"
)

// ErrTimeout is the Rejected error for publishers that overran Timeout.
var ErrTimeout = errors.New("backend publish timed out")

// ErrNoBackend is the Rejected error for a nil instance.
var ErrNoBackend = errors.New("site has no backend")

// Gateway wraps publishers with a deadline, recovery, and metrics.
type Gateway struct {
	Timeout time.Duration
}

// NewGateway returns a Gateway with the given per-call timeout.
func NewGateway(timeout time.Duration) *Gateway {
	return &Gateway{Timeout: timeout}
}

// Publish sends text to inst.  It never returns a zero Result.
func (g *Gateway) Publish(ctx context.Context, inst *Instance, text string, inputs url.Values) Result {
	if inst == nil || inst.pub == nil {
		return Rejected(ErrNoBackend)
	}
	log := logger.FromContext(ctx)
	kind := inst.Record.Kind

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Rejected(fmt.Errorf("backend %s panicked: %v", kind, p))
			}
		}()
		done <- inst.pub.Publish(ctx, text, inputs)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = Rejected(ErrTimeout)
		} else {
			res = Rejected(ctx.Err())
		}
	}
	if res.Outcome == "" {
		res = Rejected(fmt.Errorf("backend %s returned no outcome", kind))
	}

	metrics.PublishDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.PublishResultsTotal.WithLabelValues(kind, string(res.Outcome)).Inc()

	switch res.Outcome {
	case OutcomeRejected:
		log.Infow("backend rejected", "backend", inst.Record.ID, "kind", kind, "err", res.Err)
	case OutcomeNeedsInput:
		log.Infow("backend needs input", "backend", inst.Record.ID, "kind", kind, "forms", len(res.Forms))
	default:
		log.Infow("backend published", "backend", inst.Record.ID, "kind", kind)
	}
	return res
}
