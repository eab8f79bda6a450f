// Package classify estimates the technology stack implicated by a bug
// record from its error text, title and observed behavior.
package classify

import (
	"sort"
	"strings"
	"unicode"

	"github.com/randalmurphal/triage/internal/record"
)

// Confidence grades a candidate.
type Confidence string

const (
	// ConfidenceHigh marks a match in the record's text.
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow marks a hint derived from the platform alone.
	ConfidenceLow Confidence = "low"
)

// Input is the part of a record the classifier reads.
type Input struct {
	Errors         []string
	Title          string
	ActualBehavior string
	Platform       record.Platform
}

// InputFrom builds classifier input from a draft record.
func InputFrom(r *record.BugRecord) Input {
	if r == nil {
		return Input{}
	}
	return Input{
		Errors:         r.ExtractedErrors,
		Title:          r.Title,
		ActualBehavior: record.Value(r.ActualBehavior),
		Platform:       r.Environment.Platform,
	}
}

// Candidate is one piece of evidence for a label.
type Candidate struct {
	Label      string     `yaml:"label" json:"label"`
	Evidence   string     `yaml:"evidence" json:"evidence"`
	Signature  string     `yaml:"signature" json:"signature"`
	Confidence Confidence `yaml:"confidence" json:"confidence"`
}

// Result is the estimated stack plus the candidates behind it.
type Result struct {
	Labels     []string    `yaml:"labels" json:"labels"`
	Candidates []Candidate `yaml:"candidates,omitempty" json:"candidates,omitempty"`
}

// platformHints maps a platform to the label it suggests.
var platformHints = map[record.Platform]string{
	record.PlatformIOS:     LabelSwift,
	record.PlatformAndroid: LabelKotlin,
}

// Classifier evaluates an ordered signature table.
type Classifier struct {
	signatures    []Signature
	platformHints bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSignatures appends extra signatures after the defaults.
func WithSignatures(extra ...Signature) Option {
	return func(c *Classifier) { c.signatures = append(c.signatures, extra...) }
}

// WithPlatformHints enables or disables platform-derived candidates.
func WithPlatformHints(enabled bool) Option {
	return func(c *Classifier) { c.platformHints = enabled }
}

// New creates a classifier over the default signature table.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{
		signatures:    DefaultSignatures(),
		platformHints: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.signatures {
		if err := c.signatures[i].compile(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var defaultClassifier = func() *Classifier {
	c, err := New()
	if err != nil {
		panic("classify: default signatures: " + err.Error())
	}
	return c
}()

// Classify runs the default classifier.
func Classify(in Input) Result {
	return defaultClassifier.Classify(in)
}

// Signatures returns a copy of the active table in evaluation order.
func (c *Classifier) Signatures() []Signature {
	out := make([]Signature, len(c.signatures))
	copy(out, c.signatures)
	return out
}

// Classify evaluates every signature against every piece of evidence.
// The result depends only on the set of evidence strings, not on their
// order. Platform hints are always recorded as low-confidence candidates
// but contribute labels only when no text signature matched. When nothing
// matches the result is the single "unknown" label.
func (c *Classifier) Classify(in Input) Result {
	texts := evidenceTexts(in)
	paths := pathsIn(texts)

	seen := make(map[Candidate]bool)
	var candidates []Candidate
	add := func(cand Candidate) {
		if !seen[cand] {
			seen[cand] = true
			candidates = append(candidates, cand)
		}
	}

	for i := range c.signatures {
		sig := &c.signatures[i]
		if sig.Kind == KindPath {
			for _, p := range paths {
				if sig.matchPath(p) {
					add(Candidate{Label: sig.Label, Evidence: p, Signature: sig.String(), Confidence: ConfidenceHigh})
				}
			}
			continue
		}
		for _, text := range texts {
			if sig.matchText(text) {
				add(Candidate{Label: sig.Label, Evidence: text, Signature: sig.String(), Confidence: ConfidenceHigh})
			}
		}
	}

	if c.platformHints {
		if label, ok := platformHints[in.Platform]; ok {
			add(Candidate{
				Label:      label,
				Evidence:   "platform=" + string(in.Platform),
				Signature:  "platform:" + string(in.Platform),
				Confidence: ConfidenceLow,
			})
		}
	}

	if len(candidates) == 0 {
		return Result{Labels: []string{record.UnknownLabel}}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.Evidence != b.Evidence {
			return a.Evidence < b.Evidence
		}
		if a.Signature != b.Signature {
			return a.Signature < b.Signature
		}
		return a.Confidence < b.Confidence
	})

	// Text evidence is authoritative. Platform hints only name the stack
	// when the text matched nothing.
	labels := labelsAt(candidates, ConfidenceHigh)
	if len(labels) == 0 {
		labels = labelsAt(candidates, ConfidenceLow)
	}
	if len(labels) == 0 {
		labels = []string{record.UnknownLabel}
	}
	return Result{Labels: labels, Candidates: candidates}
}

// labelsAt returns the distinct labels of sorted candidates at one
// confidence level.
func labelsAt(candidates []Candidate, conf Confidence) []string {
	var labels []string
	for _, cand := range candidates {
		if cand.Confidence != conf || cand.Label == record.UnknownLabel {
			continue
		}
		if len(labels) == 0 || labels[len(labels)-1] != cand.Label {
			labels = append(labels, cand.Label)
		}
	}
	return labels
}

// evidenceTexts returns the trimmed, deduplicated, sorted evidence strings.
func evidenceTexts(in Input) []string {
	set := make(map[string]bool)
	for _, s := range in.Errors {
		set[strings.TrimSpace(s)] = true
	}
	set[strings.TrimSpace(in.Title)] = true
	set[strings.TrimSpace(in.ActualBehavior)] = true
	delete(set, "")

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// pathsIn extracts normalized path-like tokens from texts, sorted.
func pathsIn(texts []string) []string {
	set := make(map[string]bool)
	for _, text := range texts {
		for _, tok := range strings.FieldsFunc(text, isPathBreak) {
			if p, ok := normalizePath(tok); ok {
				set[p] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func isPathBreak(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '(', ')', '[', ']', '{', '}', '<', '>', '"', '\'', '`', ',', ';', '|':
		return true
	}
	return false
}

// normalizePath turns "C:\app\src\Main.cs:12" or "/var/www/app.php:123"
// into a slash-separated relative path without line numbers. Tokens that
// are URLs or carry no file extension are rejected.
func normalizePath(tok string) (string, bool) {
	tok = strings.Trim(tok, ".:!?")
	if tok == "" || strings.Contains(tok, "://") {
		return "", false
	}

	tok = stripLineSuffix(tok)
	tok = strings.ReplaceAll(tok, `\`, "/")
	if len(tok) >= 2 && tok[1] == ':' && isASCIILetter(tok[0]) {
		tok = tok[2:]
	}
	tok = strings.TrimLeft(tok, "/")
	if tok == "" {
		return "", false
	}

	if strings.Contains(tok, "/node_modules/") || strings.HasPrefix(tok, "node_modules/") {
		return tok, true
	}
	base := tok[strings.LastIndex(tok, "/")+1:]
	dot := strings.LastIndex(base, ".")
	if dot <= 0 || dot == len(base)-1 {
		return "", false
	}
	ext := base[dot+1:]
	if len(ext) > 6 || !strings.ContainsFunc(ext, unicode.IsLetter) {
		return "", false
	}
	return tok, true
}

// stripLineSuffix removes trailing ":line" and ":line:col" parts.
func stripLineSuffix(s string) string {
	for {
		i := strings.LastIndex(s, ":")
		if i <= 0 || i == len(s)-1 {
			return strings.TrimSuffix(s, ":")
		}
		if strings.IndexFunc(s[i+1:], func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return s
		}
		s = s[:i]
	}
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
