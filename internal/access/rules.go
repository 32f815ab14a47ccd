// internal/access/rules.go
//
// Access-rule parsing.
//
// Context
// -------
// A site keeps its rules in the JSON `params` blob under the `access` key:
//
//	{"access": [
//	    {"network": "10.0.0.0/8", "suffixlen": 8, "throttle": 60,
//	     "reject": "(?i)casino", "moderate": "http"},
//	    {"network": "0.0.0.0/0"},
//	    {"network": "::/0"}
//	]}
//
// Keys
// ----
//   - network   – CIDR the client address must fall in (required).
//   - suffixlen – low bits cleared from the address to build the identity
//     token.  0 keeps the full address.
//   - throttle  – minimum seconds between live messages of one identity.
//   - reject    – RE2 pattern; a match anywhere in the text rejects.
//   - moderate  – RE2 pattern; a match queues the text for moderation.
//
// Every problem is reported as ErrInvalidRule when the site is loaded,
// never while a submission is being evaluated.
package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRule marks malformed rule parameters.
var ErrInvalidRule = errors.New("invalid access rule")

// Rule is one parsed entry of a site's ordered rule list.
type Rule struct {
	Network   netip.Prefix
	SuffixLen int
	Throttle  time.Duration
	Reject    *regexp.Regexp
	Moderate  *regexp.Regexp
}

// rawRule is the JSON shape of Rule.
type rawRule struct {
	Network   string  `json:"network"   validate:"required,cidr"`
	SuffixLen int     `json:"suffixlen" validate:"gte=0,lte=128"`
	Throttle  float64 `json:"throttle"  validate:"gte=0"`
	Reject    string  `json:"reject"`
	Moderate  string  `json:"moderate"`
}

var validate = validator.New()

// DefaultParams is the rule set new sites start with: everyone may post,
// one identity per full address.
const DefaultParams = `{"access":[{"network":"0.0.0.0/0"},{"network":"::/0"}]}`

// ParseParams extracts and parses the `access` list of a site params
// blob.  An empty blob yields no rules, which rejects every request.
func ParseParams(params []byte) ([]Rule, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var doc struct {
		Access []json.RawMessage `json:"access"`
	}
	if err := json.Unmarshal(params, &doc); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidRule, err)
	}
	rules := make([]Rule, 0, len(doc.Access))
	for i, raw := range doc.Access {
		r, err := parseRule(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseRule(raw json.RawMessage) (Rule, error) {
	var rr rawRule
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Rule{}, err
	}
	if err := validate.Struct(rr); err != nil {
		return Rule{}, err
	}

	pfx, err := netip.ParsePrefix(rr.Network)
	if err != nil {
		return Rule{}, err
	}
	pfx = pfx.Masked()
	if rr.SuffixLen > pfx.Addr().BitLen() {
		return Rule{}, fmt.Errorf("suffixlen %d exceeds %d address bits", rr.SuffixLen, pfx.Addr().BitLen())
	}

	r := Rule{
		Network:   pfx,
		SuffixLen: rr.SuffixLen,
		Throttle:  time.Duration(rr.Throttle * float64(time.Second)),
	}
	if rr.Reject != "" {
		if r.Reject, err = regexp.Compile(rr.Reject); err != nil {
			return Rule{}, fmt.Errorf("reject: %v", err)
		}
	}
	if rr.Moderate != "" {
		if r.Moderate, err = regexp.Compile(rr.Moderate); err != nil {
			return Rule{}, fmt.Errorf("moderate: %v", err)
		}
	}
	return r, nil
}

// Contains reports whether addr falls in the rule's network.
func (r Rule) Contains(addr netip.Addr) bool {
	return r.Network.Contains(addr)
}

// Identify masks addr by SuffixLen and returns the textual network
// address, e.g. 1.2.3.4 with suffixlen 8 → "1.2.3.0".
func (r Rule) Identify(addr netip.Addr) string {
	bits := addr.BitLen() - r.SuffixLen
	if bits < 0 {
		bits = 0
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return addr.String()
	}
	return p.Addr().String()
}
