package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NoteSeparator joins notes in the serialized notes string.
const NoteSeparator = "; "

// wireEnvironment and wireRecord fix the JSON key order. encoding/json
// emits struct fields in declaration order, which keeps output diffable.
type wireEnvironment struct {
	Platform string  `json:"platform"`
	Version  *string `json:"version"`
	Browser  *string `json:"browser"`
	Device   *string `json:"device"`
}

type wireRecord struct {
	BugID              string          `json:"bug_id"`
	Title              string          `json:"title"`
	ReproductionSteps  []string        `json:"reproduction_steps"`
	ExpectedBehavior   *string         `json:"expected_behavior"`
	ActualBehavior     *string         `json:"actual_behavior"`
	Environment        wireEnvironment `json:"environment"`
	CustomerAccount    *string         `json:"customer_account"`
	Timestamp          *string         `json:"timestamp"`
	TimestampEstimated bool            `json:"timestamp_estimated,omitempty"`
	EstimatedStack     []string        `json:"estimated_stack"`
	Screenshots        []string        `json:"screenshots"`
	ExtractedErrors    []string        `json:"extracted_errors"`
	Notes              string          `json:"notes"`
	Error              string          `json:"error,omitempty"`
}

// Keys lists the JSON keys every serialized record carries, in order.
var Keys = []string{
	"bug_id", "title", "reproduction_steps", "expected_behavior", "actual_behavior",
	"environment", "customer_account", "timestamp", "estimated_stack", "screenshots",
	"extracted_errors", "notes",
}

// EnvironmentKeys lists the keys of the environment object.
var EnvironmentKeys = []string{"platform", "version", "browser", "device"}

func (r *BugRecord) toWire() wireRecord {
	w := wireRecord{
		BugID:              r.ID,
		Title:              r.Title,
		ReproductionSteps:  nonNil(r.ReproductionSteps),
		ExpectedBehavior:   r.ExpectedBehavior,
		ActualBehavior:     r.ActualBehavior,
		CustomerAccount:    r.Reporter,
		TimestampEstimated: r.TimestampEstimated,
		EstimatedStack:     nonNil(r.EstimatedStack),
		Screenshots:        nonNil(r.Screenshots),
		ExtractedErrors:    nonNil(r.ExtractedErrors),
		Notes:              strings.Join(r.Notes, NoteSeparator),
		Error:              r.Error,
		Environment: wireEnvironment{
			Platform: string(r.Environment.Platform),
			Version:  r.Environment.Version,
			Browser:  r.Environment.Browser,
			Device:   r.Environment.Device,
		},
	}
	if w.Environment.Platform == "" {
		w.Environment.Platform = string(PlatformUnknown)
	}
	if r.Timestamp != nil {
		ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
		w.Timestamp = &ts
	}
	return w
}

// MarshalJSON implements json.Marshaler with the canonical key order.
func (r *BugRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

// MarshalCanonical returns the canonical file form: two-space indentation,
// no HTML escaping, trailing newline.
func (r *BugRecord) MarshalCanonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.toWire()); err != nil {
		return nil, fmt.Errorf("encode bug record: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a serialized record.
func Parse(data []byte) (*BugRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode bug record: %w", err)
	}
	r := New(w.BugID)
	r.Title = w.Title
	r.ReproductionSteps = nonNil(w.ReproductionSteps)
	r.ExpectedBehavior = w.ExpectedBehavior
	r.ActualBehavior = w.ActualBehavior
	r.Environment = Environment{
		Platform: Platform(w.Environment.Platform),
		Version:  w.Environment.Version,
		Browser:  w.Environment.Browser,
		Device:   w.Environment.Device,
	}
	r.Reporter = w.CustomerAccount
	r.TimestampEstimated = w.TimestampEstimated
	r.EstimatedStack = nonNil(w.EstimatedStack)
	r.Screenshots = nonNil(w.Screenshots)
	r.ExtractedErrors = nonNil(w.ExtractedErrors)
	r.Error = w.Error
	if w.Notes != "" {
		r.Notes = strings.Split(w.Notes, NoteSeparator)
	}
	if w.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode bug record timestamp: %w", err)
		}
		r.Timestamp = &ts
	}
	return r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
