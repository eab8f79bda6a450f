// Package record defines BugRecord, the canonical structured form of a bug
// ticket, and its JSON encoding.
//
// A BugRecord is a draft while the pipeline builds it. Only the validate
// package can turn a draft into a validated record, and only validated
// records are emitted.
package record

import (
	"sort"
	"strings"
	"time"
)

// Platform is the environment platform enum.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformUnknown Platform = "unknown"
)

// Valid reports whether p is one of the enum values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformUnknown:
		return true
	}
	return false
}

// ParsePlatform normalizes free-form platform names ("iPhone", "iOS 17",
// "Chrome") to the enum. Unrecognized input maps to PlatformUnknown.
func ParsePlatform(s string) Platform {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return PlatformUnknown
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == '/' || r == ',' || r == '(' || r == ')' || r == '-' || r == '_'
	})
	for _, f := range fields {
		switch f {
		case "ios", "iphone", "ipad", "ipados", "iphoneos":
			return PlatformIOS
		case "android":
			return PlatformAndroid
		case "web", "browser", "chrome", "firefox", "safari", "edge", "desktop", "webapp":
			return PlatformWeb
		}
	}
	return PlatformUnknown
}

// UnknownLabel is the explicit fallback technology label.
const UnknownLabel = "unknown"

// RetrievalFailureMarker is the fixed value of the error key on records
// produced when the ticket could not be retrieved.
const RetrievalFailureMarker = "ticket_retrieval_failed"

// NoteInvalidUTF8 flags a record whose source text carried invalid UTF-8
// that was replaced with U+FFFD.
const NoteInvalidUTF8 = "invalid UTF-8 replaced"

// Environment describes where the bug was observed.
type Environment struct {
	Platform Platform
	Version  *string
	Browser  *string
	Device   *string
}

// BugRecord is the canonical bug ticket record.
type BugRecord struct {
	ID                 string
	Title              string
	ReproductionSteps  []string
	ExpectedBehavior   *string
	ActualBehavior     *string
	Environment        Environment
	Reporter           *string // sensitive, see logging.Redact
	Timestamp          *time.Time
	TimestampEstimated bool
	EstimatedStack     []string
	Screenshots        []string
	ExtractedErrors    []string
	Notes              []string
	Error              string
}

// New returns an empty draft with every sequence initialized.
func New(id string) *BugRecord {
	return &BugRecord{
		ID:                id,
		ReproductionSteps: []string{},
		Environment:       Environment{Platform: PlatformUnknown},
		EstimatedStack:    []string{},
		Screenshots:       []string{},
		ExtractedErrors:   []string{},
		Notes:             []string{},
	}
}

// RetrievalFailure returns the minimal record emitted when the ticket could
// not be read. All fields carry their defaults.
func RetrievalFailure(id string) *BugRecord {
	r := New(id)
	r.EstimatedStack = []string{UnknownLabel}
	r.Error = RetrievalFailureMarker
	return r
}

// AddNote appends a caveat unless the same note is already present.
func (r *BugRecord) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	for _, n := range r.Notes {
		if n == note {
			return
		}
	}
	r.Notes = append(r.Notes, note)
}

// AddScreenshot appends a URI unless it is already present.
func (r *BugRecord) AddScreenshot(uri string) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return
	}
	for _, s := range r.Screenshots {
		if s == uri {
			return
		}
	}
	r.Screenshots = append(r.Screenshots, uri)
}

// AppendError appends extracted error text. Existing entries are never
// reordered or removed, and a repeated sighting is kept as a new entry.
// Blank text is ignored.
func (r *BugRecord) AppendError(msg string) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return false
	}
	r.ExtractedErrors = append(r.ExtractedErrors, msg)
	return true
}

// SetStack replaces the estimated stack with the given labels as a sorted,
// deduplicated set.
func (r *BugRecord) SetStack(labels []string) {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	r.EstimatedStack = out
}

// HasLabel reports whether label is in the estimated stack.
func (r *BugRecord) HasLabel(label string) bool {
	for _, l := range r.EstimatedStack {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *BugRecord) Clone() *BugRecord {
	c := *r
	c.ReproductionSteps = cloneStrings(r.ReproductionSteps)
	c.ExpectedBehavior = cloneString(r.ExpectedBehavior)
	c.ActualBehavior = cloneString(r.ActualBehavior)
	c.Environment.Version = cloneString(r.Environment.Version)
	c.Environment.Browser = cloneString(r.Environment.Browser)
	c.Environment.Device = cloneString(r.Environment.Device)
	c.Reporter = cloneString(r.Reporter)
	if r.Timestamp != nil {
		ts := *r.Timestamp
		c.Timestamp = &ts
	}
	c.EstimatedStack = cloneStrings(r.EstimatedStack)
	c.Screenshots = cloneStrings(r.Screenshots)
	c.ExtractedErrors = cloneStrings(r.ExtractedErrors)
	c.Notes = cloneStrings(r.Notes)
	return &c
}

// Ptr returns a pointer to s, or nil when s is blank.
func Ptr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Value dereferences s, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
