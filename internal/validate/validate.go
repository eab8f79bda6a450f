// Package validate is the quality gate between a draft bug record and an
// emittable one.
package validate

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/record"
)

// NoteTimestampEstimated is added when the run time stands in for a
// missing ticket timestamp.
const NoteTimestampEstimated = "timestamp estimated"

// Rule names a validation rule.
type Rule string

const (
	RuleTitleRequired     Rule = "title_required"
	RuleTimestampRequired Rule = "timestamp_required"
	RuleStackRequired     Rule = "estimated_stack_required"
	RuleStackUnknownMixed Rule = "estimated_stack_unknown_mixed"
	RulePlatformInvalid   Rule = "platform_invalid"
	RuleNotSerializable   Rule = "not_serializable"
)

// Violation is one failed rule.
type Violation struct {
	Rule    Rule
	Field   string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Rule)
}

// ValidationError lists every rule a draft violated.
type ValidationError struct {
	Violations []Violation
}

// Error returns a combined error message.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Rules returns the violated rule names in check order.
func (e *ValidationError) Rules() []string {
	rules := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		rules = append(rules, string(v.Rule))
	}
	return rules
}

// Has reports whether rule was violated.
func (e *ValidationError) Has(rule Rule) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Validated is a record that passed every rule, together with its
// canonical encoding. It can only be obtained from Validate.
type Validated struct {
	rec  *record.BugRecord
	data []byte
}

// Record returns a copy of the validated record.
func (v *Validated) Record() *record.BugRecord {
	return v.rec.Clone()
}

// JSON returns the canonical encoding.
func (v *Validated) JSON() []byte {
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out
}

// ApplyTimestampFallback stamps now on a draft with no timestamp. It runs
// before Validate and does nothing when disabled. Reports whether the
// draft changed.
func ApplyTimestampFallback(draft *record.BugRecord, now time.Time, enabled bool) bool {
	if draft == nil || draft.Timestamp != nil || !enabled {
		return false
	}
	ts := now.UTC().Truncate(time.Second)
	draft.Timestamp = &ts
	draft.TimestampEstimated = true
	draft.AddNote(NoteTimestampEstimated)
	return true
}

// Validate checks draft against every rule. It does not modify draft. On
// failure the error is a *TriageError with code VALIDATION_FAILED whose
// cause is a *ValidationError naming all violated rules.
func Validate(draft *record.BugRecord) (*Validated, error) {
	if draft == nil {
		ve := &ValidationError{Violations: []Violation{
			{Rule: RuleTitleRequired, Field: "title", Message: "record is empty"},
		}}
		return nil, triageerrors.ErrValidationFailed(ve.Rules()).WithCause(ve)
	}

	var violations []Violation
	if strings.TrimSpace(draft.Title) == "" {
		violations = append(violations, Violation{Rule: RuleTitleRequired, Field: "title", Message: "title is empty"})
	}
	if draft.Timestamp == nil {
		violations = append(violations, Violation{Rule: RuleTimestampRequired, Field: "timestamp", Message: "timestamp is missing"})
	}
	switch {
	case len(draft.EstimatedStack) == 0:
		violations = append(violations, Violation{Rule: RuleStackRequired, Field: "estimated_stack", Message: "estimated stack is empty"})
	case len(draft.EstimatedStack) > 1 && containsLabel(draft.EstimatedStack, record.UnknownLabel):
		violations = append(violations, Violation{
			Rule:    RuleStackUnknownMixed,
			Field:   "estimated_stack",
			Message: fmt.Sprintf("%q combined with other labels", record.UnknownLabel),
		})
	}
	if p := draft.Environment.Platform; p != "" && !p.Valid() {
		violations = append(violations, Violation{
			Rule:    RulePlatformInvalid,
			Field:   "environment.platform",
			Message: fmt.Sprintf("platform %q is not one of web, ios, android, unknown", p),
		})
	}

	var data []byte
	if field, ok := invalidUTF8(draft); ok {
		violations = append(violations, Violation{Rule: RuleNotSerializable, Field: field, Message: "invalid UTF-8 would be lost in JSON"})
	} else {
		var err error
		data, err = draft.MarshalCanonical()
		if err != nil {
			violations = append(violations, Violation{Rule: RuleNotSerializable, Field: "record", Message: err.Error()})
		}
	}

	if len(violations) > 0 {
		ve := &ValidationError{Violations: violations}
		return nil, triageerrors.ErrValidationFailed(ve.Rules()).WithCause(ve)
	}
	return &Validated{rec: draft.Clone(), data: data}, nil
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// invalidUTF8 returns the first field holding bytes encoding/json would
// silently replace.
func invalidUTF8(r *record.BugRecord) (string, bool) {
	single := []struct {
		field string
		value string
	}{
		{"bug_id", r.ID},
		{"title", r.Title},
		{"expected_behavior", record.Value(r.ExpectedBehavior)},
		{"actual_behavior", record.Value(r.ActualBehavior)},
		{"environment.platform", string(r.Environment.Platform)},
		{"environment.version", record.Value(r.Environment.Version)},
		{"environment.browser", record.Value(r.Environment.Browser)},
		{"environment.device", record.Value(r.Environment.Device)},
		{"customer_account", record.Value(r.Reporter)},
	}
	for _, s := range single {
		if !utf8.ValidString(s.value) {
			return s.field, true
		}
	}

	lists := []struct {
		field  string
		values []string
	}{
		{"reproduction_steps", r.ReproductionSteps},
		{"estimated_stack", r.EstimatedStack},
		{"screenshots", r.Screenshots},
		{"extracted_errors", r.ExtractedErrors},
		{"notes", r.Notes},
	}
	for _, l := range lists {
		for _, v := range l.values {
			if !utf8.ValidString(v) {
				return l.field, true
			}
		}
	}
	return "", false
}
