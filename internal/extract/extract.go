// Package extract maps raw ticket content to a draft BugRecord.
//
// Structured properties win over free text. Free text is split into
// sections under recognized headings ("Steps to reproduce", "Expected",
// "Environment", ...) and each section feeds its field. Extraction never
// fails: anything not found is defaulted and recorded as a note.
package extract

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/source"
)

// idNamespace seeds synthesized bug IDs so the same ticket text always
// yields the same ID.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/randalmurphal/triage/bug-id"))

// timestampLayouts are tried in order for timestamp properties.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Extract builds a draft record from raw content.
func Extract(raw *source.RawContent) *record.BugRecord {
	if raw == nil {
		raw = &source.RawContent{}
	}
	raw, replaced := validUTF8(raw)
	props := normalizeProperties(raw.Properties)
	doc := parseDocument(raw.Text)

	rec := record.New("")

	rec.Title = firstNonEmpty(props.value(fieldTitle), firstLine(doc.paragraph(fieldTitle)), doc.heading)
	rec.ID = firstNonEmpty(props.value(fieldID), raw.ID)
	if rec.ID == "" {
		rec.ID = SynthesizeID(rec.Title, raw.Text)
		rec.AddNote("bug_id synthesized")
	}

	if steps := props.value(fieldSteps); steps != "" {
		rec.ReproductionSteps = splitSteps(strings.Split(steps, "\n"))
	} else {
		rec.ReproductionSteps = splitSteps(doc.block(fieldSteps))
	}
	if rec.ReproductionSteps == nil {
		rec.ReproductionSteps = []string{}
	}

	rec.ExpectedBehavior = record.Ptr(firstNonEmpty(props.value(fieldExpected), doc.paragraph(fieldExpected)))
	rec.ActualBehavior = record.Ptr(firstNonEmpty(props.value(fieldActual), doc.paragraph(fieldActual)))
	rec.Environment = extractEnvironment(props, doc)
	rec.Reporter = record.Ptr(firstNonEmpty(props.value(fieldReporter), doc.values[fieldReporter]))
	rec.Timestamp = extractTimestamp(props, doc, raw.Created)

	for _, uri := range extractScreenshots(props, raw) {
		rec.AddScreenshot(uri)
	}

	for _, line := range strings.Split(props.value(fieldErrors), "\n") {
		rec.AppendError(line)
	}
	for _, line := range ErrorLines(raw.Text) {
		rec.AppendError(line)
	}

	noteMissing(rec)
	if replaced {
		rec.AddNote(record.NoteInvalidUTF8)
	}
	return rec
}

// validUTF8 returns a copy of raw with invalid UTF-8 in its text fields
// replaced by U+FFFD, and whether anything was replaced.
func validUTF8(raw *source.RawContent) (*source.RawContent, bool) {
	replaced := false
	fix := func(s string) string {
		if utf8.ValidString(s) {
			return s
		}
		replaced = true
		return strings.ToValidUTF8(s, "\uFFFD")
	}

	out := *raw
	out.ID = fix(raw.ID)
	out.URL = fix(raw.URL)
	out.Text = fix(raw.Text)
	if raw.Properties != nil {
		out.Properties = make(map[string]string, len(raw.Properties))
		for k, v := range raw.Properties {
			out.Properties[fix(k)] = fix(v)
		}
	}
	if raw.Attachments != nil {
		out.Attachments = make([]string, len(raw.Attachments))
		for i, a := range raw.Attachments {
			out.Attachments[i] = fix(a)
		}
	}
	return &out, replaced
}

// SynthesizeID derives a stable "BUG-<8 hex>" identifier from ticket text.
func SynthesizeID(title, text string) string {
	id := uuid.NewSHA1(idNamespace, []byte(title+"\n"+text))
	return "BUG-" + hex.EncodeToString(id[:4])
}

func noteMissing(rec *record.BugRecord) {
	missing := func(name string) {
		rec.AddNote(triageerrors.ErrMissingField(name).What)
	}
	if rec.Title == "" {
		missing("title")
	}
	if len(rec.ReproductionSteps) == 0 {
		missing("reproduction_steps")
	}
	if rec.ExpectedBehavior == nil {
		missing("expected_behavior")
	}
	if rec.ActualBehavior == nil {
		missing("actual_behavior")
	}
	if rec.Environment.Platform == record.PlatformUnknown {
		missing("environment.platform")
	}
	if rec.Reporter == nil {
		missing("customer_account")
	}
	if rec.Timestamp == nil {
		missing("timestamp")
	}
}

func extractEnvironment(props properties, doc *document) record.Environment {
	env := record.Environment{Platform: record.PlatformUnknown}

	// An environment property is free text of its own ("OS: iOS 17\nDevice: iPhone 14").
	envProp := parseDocument("Environment:\n" + props.value(fieldEnvironment))
	value := func(f field) string {
		return firstNonEmpty(props.value(f), doc.values[f], envProp.values[f])
	}

	// Bare environment text ("iOS 17.2, iPhone 14") is the last resort for the platform.
	candidates := []string{
		props.value(fieldPlatform),
		doc.values[fieldPlatform],
		envProp.values[fieldPlatform],
		envProp.paragraph(fieldEnvironment),
		doc.paragraph(fieldEnvironment),
	}
	for _, c := range candidates {
		if p := record.ParsePlatform(c); p != record.PlatformUnknown {
			env.Platform = p
			break
		}
	}

	env.Version = record.Ptr(value(fieldVersion))
	env.Browser = record.Ptr(value(fieldBrowser))
	env.Device = record.Ptr(value(fieldDevice))

	if env.Platform == record.PlatformUnknown && env.Browser != nil {
		env.Platform = record.PlatformWeb
	}
	if env.Platform == record.PlatformUnknown {
		for _, label := range strings.Split(props.value(fieldLabels), "\n") {
			for _, l := range strings.Split(label, ",") {
				if p := record.ParsePlatform(l); p != record.PlatformUnknown {
					env.Platform = p
					return env
				}
			}
		}
	}
	return env
}

func extractTimestamp(props properties, doc *document, created *time.Time) *time.Time {
	for _, v := range []string{props.value(fieldTimestamp), doc.values[fieldTimestamp]} {
		if t, ok := parseTimestamp(v); ok {
			return &t
		}
	}
	if created != nil && !created.IsZero() {
		t := created.UTC()
		return &t
	}
	return nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// extractScreenshots gathers image URIs in discovery order: screenshot
// properties, image attachments, then links in the ticket text.
func extractScreenshots(props properties, raw *source.RawContent) []string {
	var out []string
	out = append(out, splitURIs(props.value(fieldScreenshots))...)
	for _, uri := range splitURIs(props.raw["attachments"]) {
		if isImageRef(uri) {
			out = append(out, uri)
		}
	}
	out = append(out, raw.Attachments...)
	out = append(out, ImageLinks(raw.Text)...)
	return out
}

// properties are raw properties indexed by normalized key and by field.
type properties struct {
	raw    map[string]string
	fields map[field]string
}

func normalizeProperties(in map[string]string) properties {
	p := properties{raw: map[string]string{}, fields: map[field]string{}}

	// Sorted so that when two keys alias the same field the winner is stable.
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := strings.TrimSpace(in[k])
		if v == "" {
			continue
		}
		nk := normalizeKey(k)
		p.raw[nk] = v
		f := aliases[nk]
		switch {
		case f == fieldNone:
		case f == fieldLabels && p.fields[f] != "":
			p.fields[f] += "\n" + v
		case p.fields[f] == "":
			p.fields[f] = v
		}
	}
	return p
}

func (p properties) value(f field) string {
	return p.fields[f]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
