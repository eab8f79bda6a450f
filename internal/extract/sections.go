package extract

import (
	"regexp"
	"strings"
)

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)
	boldHeading     = regexp.MustCompile(`^\*\*([^*]+?)\*\*\s*:?\s*(.*)$`)
	labelLine       = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 /_-]{0,40}?)\s*:\s*(.*)$`)
	listMarker      = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,3}[.)])\s+`)
	codeFence       = regexp.MustCompile("^\\s*(```|~~~)")
)

// document is free text split into recognized sections.
type document struct {
	// blocks holds the lines of each block section, in document order.
	// Repeated headings append to the same block.
	blocks map[field][]string
	// values holds the first inline value seen for single-value fields.
	values map[field]string
	// heading is the first Markdown heading that is not a known section.
	heading string
}

// heading is a recognized section heading line.
type heading struct {
	field    field
	inline   string
	markdown bool
	text     string
}

// parseHeading reports whether line opens a section. Unknown Markdown
// headings are returned with fieldNone so the caller can close the
// current section.
func parseHeading(line string) (heading, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return heading{}, false
	}

	if m := markdownHeading.FindStringSubmatch(trimmed); m != nil {
		text := strings.Trim(strings.TrimSpace(m[1]), "*_: ")
		return heading{field: lookup(text), markdown: true, text: text}, true
	}

	if m := boldHeading.FindStringSubmatch(trimmed); m != nil {
		if f := lookup(m[1]); f != fieldNone {
			return heading{field: f, inline: strings.TrimSpace(m[2]), text: m[1]}, true
		}
		return heading{}, false
	}

	if m := labelLine.FindStringSubmatch(trimmed); m != nil {
		f := lookup(m[1])
		inline := strings.TrimSpace(m[2])
		// "Error: something" is an error message, not an errors heading.
		if f == fieldNone || (f == fieldErrors && inline != "") {
			return heading{}, false
		}
		return heading{field: f, inline: inline, text: m[1]}, true
	}

	return heading{}, false
}

// parseDocument splits text into sections under recognized headings.
// Lines before the first heading, and lines under unknown headings, belong
// to no section. Fenced code blocks are kept verbatim inside the current
// section and never open new sections.
func parseDocument(text string) *document {
	doc := &document{
		blocks: map[field][]string{},
		values: map[field]string{},
	}

	current := fieldNone
	inFence := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if codeFence.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			if current.block() {
				doc.blocks[current] = append(doc.blocks[current], line)
			}
			continue
		}

		if h, ok := parseHeading(line); ok {
			if h.field == fieldNone {
				if h.markdown && doc.heading == "" {
					doc.heading = h.text
				}
				current = fieldNone
				continue
			}
			if h.field.block() {
				current = h.field
				if h.inline != "" {
					doc.blocks[current] = append(doc.blocks[current], h.inline)
				}
				continue
			}
			// Single-value fields do not end the enclosing section, so
			// "Browser: Chrome" inside an environment block stays there.
			doc.setValue(h.field, h.inline)
			continue
		}

		// "- OS: iOS 17" style detail lines.
		if stripped := listMarker.ReplaceAllString(line, ""); stripped != line {
			if m := labelLine.FindStringSubmatch(strings.TrimSpace(stripped)); m != nil {
				if f := lookup(m[1]); f != fieldNone && !f.block() {
					doc.setValue(f, strings.TrimSpace(m[2]))
					continue
				}
			}
		}

		if current.block() {
			doc.blocks[current] = append(doc.blocks[current], line)
		}
	}
	return doc
}

func (d *document) setValue(f field, v string) {
	if v == "" {
		return
	}
	if _, ok := d.values[f]; !ok {
		d.values[f] = v
	}
}

// block returns the trimmed, non-empty lines of a block section.
func (d *document) block(f field) []string {
	var out []string
	for _, line := range d.blocks[f] {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// paragraph joins a block section into one string, or "" when empty.
func (d *document) paragraph(f field) string {
	return strings.Join(d.block(f), "\n")
}

// splitSteps turns a steps section into individual steps. With list markers
// each marker starts a step and unmarked lines continue the previous one;
// without any markers every non-empty line is a step.
func splitSteps(lines []string) []string {
	hasMarkers := false
	for _, line := range lines {
		if listMarker.MatchString(line) {
			hasMarkers = true
			break
		}
	}

	var steps []string
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if !hasMarkers {
			steps = append(steps, s)
			continue
		}
		if listMarker.MatchString(line) {
			if step := strings.TrimSpace(listMarker.ReplaceAllString(line, "")); step != "" {
				steps = append(steps, step)
			}
			continue
		}
		if len(steps) == 0 {
			steps = append(steps, s)
			continue
		}
		steps[len(steps)-1] += " " + s
	}
	return steps
}
