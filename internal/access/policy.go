// internal/access/policy.go
//
// Per-site access policy.
//
// Context
// -------
// A Policy is built once per site when the tenant cache loads it and is
// then shared read-only by every request.  Evaluate walks the rules in
// order; the first rule whose network contains the client address decides
// the outcome and later rules are never consulted.
//
//	no rule matches          → reject, no identity
//	throttle window occupied → throttle   (text rules skipped)
//	reject pattern matches   → reject
//	moderate pattern matches → moderate
//	otherwise                → accept
//
// Precheck is Evaluate without text, used to render the submission form.
//
// A site whose rules failed to parse gets a Policy that rejects everyone.
// Denials are ordinary return values; only store failures surface as
// errors.
package access

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/yanizio/treehole/internal/logger"
	"github.com/yanizio/treehole/internal/message"
	"github.com/yanizio/treehole/internal/metrics"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	Accept   Decision = "accept"
	Moderate Decision = "moderate"
	Throttle Decision = "throttle"
	Reject   Decision = "reject"
)

// Result bundles a decision with the identity it was computed for and the
// throttle query to confirm at commit time.
type Result struct {
	Decision Decision
	Identity string
	Check    ThrottleCheck
}

// Policy evaluates one site's rules.
type Policy struct {
	SiteID int64
	Rules  []Rule
	// Err is the parse error the rules were loaded with, if any.  A
	// non-nil Err makes the policy reject every request.
	Err error
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewPolicy parses params into a Policy.  Parse failures are kept on the
// returned policy (fail closed) and also returned so the loader can log
// them.
func NewPolicy(siteID int64, params []byte) (*Policy, error) {
	rules, err := ParseParams(params)
	p := &Policy{SiteID: siteID, Rules: rules, Err: err}
	if err != nil {
		p.Rules = nil
	}
	return p, err
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Evaluate decides on a submission of text from addr.
func (p *Policy) Evaluate(ctx context.Context, f message.Finder, addr, text string) (Result, error) {
	return p.evaluate(ctx, f, addr, &text)
}

// Precheck decides whether addr may submit at all, skipping text rules.
func (p *Policy) Precheck(ctx context.Context, f message.Finder, addr string) (Result, error) {
	return p.evaluate(ctx, f, addr, nil)
}

// Identify returns the identity token the first matching rule assigns to
// addr, or false when no rule matches.
func (p *Policy) Identify(addr string) (string, bool) {
	_, ident, ok := p.match(addr)
	return ident, ok
}

// CheckAt rebuilds the throttle check addr would get for a message created
// at t.  The window reaches back one throttle period from t.  ok is false
// when no rule matches addr.
func (p *Policy) CheckAt(addr string, t time.Time) (check ThrottleCheck, ident string, ok bool) {
	rule, ident, ok := p.match(addr)
	if !ok {
		return ThrottleCheck{}, "", false
	}
	if rule.Throttle > 0 {
		check = ThrottleCheck{SiteID: p.SiteID, Identity: ident, Since: t.Add(-rule.Throttle)}
	}
	return check, ident, true
}

func (p *Policy) match(addr string) (Rule, string, bool) {
	if p.Err != nil {
		return Rule{}, "", false
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return Rule{}, "", false
	}
	a = a.WithZone("").Unmap()
	for _, r := range p.Rules {
		if r.Contains(a) {
			return r, r.Identify(a), true
		}
	}
	return Rule{}, "", false
}

func (p *Policy) evaluate(ctx context.Context, f message.Finder, addr string, text *string) (Result, error) {
	log := logger.FromContext(ctx)

	rule, ident, ok := p.match(addr)
	if !ok {
		if p.Err != nil {
			log.Warnw("access rules invalid, rejecting", "site", p.SiteID, "err", p.Err)
		}
		return p.done(log.Debugw, Result{Decision: Reject}), nil
	}

	res := Result{Decision: Accept, Identity: ident}

	if rule.Throttle > 0 {
		res.Check = ThrottleCheck{
			SiteID:   p.SiteID,
			Identity: ident,
			Since:    p.now().Add(-rule.Throttle),
		}
		recent, err := f.Find(ctx, p.SiteID, message.Filter{
			Identity: ident,
			After:    res.Check.Since,
			Live:     true,
			Limit:    1,
		})
		if err != nil {
			return Result{}, fmt.Errorf("access throttle lookup: %w", err)
		}
		if len(recent) > 0 {
			res.Decision = Throttle
			return p.done(log.Debugw, res), nil
		}
	}

	if text != nil {
		switch {
		case rule.Reject != nil && rule.Reject.MatchString(*text):
			res.Decision = Reject
		case rule.Moderate != nil && rule.Moderate.MatchString(*text):
			res.Decision = Moderate
		}
	}
	return p.done(log.Debugw, res), nil
}

func (p *Policy) done(logf func(string, ...any), res Result) Result {
	metrics.AccessDecisionsTotal.WithLabelValues(string(res.Decision)).Inc()
	logf("access decision", "site", p.SiteID, "identity", res.Identity, "decision", res.Decision)
	return res
}
