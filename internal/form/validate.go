// internal/form/validate.go
//
// Submission form validation.
//
// Context
//   The publish form posts the message text, optionally the id of a
//   pending message it continues, and whatever fields a backend sub-form
//   asked for.  Submission checks the first two and returns the rest
//   untouched as backend inputs.  Field errors are user errors, rendered
//   next to the field; they are never a 500.
//
//------------------------------------------------------------------------------

package form

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// FieldText holds the message body.
	FieldText = "text"
	// FieldMessageID names the pending message being continued.
	FieldMessageID = "message_id"
)

var validate = validator.New()

// ErrorField describes a single validation failure.
type ErrorField struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Errors is a list of field errors that satisfies error.
type Errors []ErrorField

func (e Errors) Error() string { return "form validation failed" }

// Submission is a validated publish form.
type Submission struct {
	Text      string
	MessageID int64 // zero for a new submission
	// Inputs are every remaining field, for the backend.
	Inputs url.Values
}

// ParseSubmission validates posted.  Text is required for new
// submissions and limited to maxLen characters; a continuation only needs
// a valid message id.
func ParseSubmission(posted url.Values, maxLen int) (Submission, Errors) {
	var (
		sub  Submission
		errs Errors
	)

	if raw := strings.TrimSpace(posted.Get(FieldMessageID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			errs = append(errs, ErrorField{FieldMessageID, "Invalid message reference."})
		}
		sub.MessageID = id
	}

	sub.Text = strings.TrimSpace(posted.Get(FieldText))
	if sub.MessageID == 0 {
		if err := validate.Var(sub.Text, "required"); err != nil {
			errs = append(errs, ErrorField{FieldText, "This field is required."})
		} else if err := validate.Var(sub.Text, fmt.Sprintf("max=%d", maxLen)); maxLen > 0 && err != nil {
			errs = append(errs, ErrorField{FieldText, fmt.Sprintf("Must be at most %d characters.", maxLen)})
		}
	}

	sub.Inputs = url.Values{}
	for k, v := range posted {
		switch k {
		case FieldText, FieldMessageID, FieldCSRF:
			continue
		}
		sub.Inputs[k] = v
	}
	return sub, errs
}

// IDs parses a list of positive integer ids, e.g. the approve[] and
// reject[] checkboxes of the moderation form.  Malformed entries are
// reported together.
func IDs(name string, raw []string) ([]int64, Errors) {
	var (
		out  []int64
		errs Errors
	)
	for _, s := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil || id <= 0 {
			errs = append(errs, ErrorField{name, fmt.Sprintf("Invalid id %q.", s)})
			continue
		}
		out = append(out, id)
	}
	return out, errs
}
