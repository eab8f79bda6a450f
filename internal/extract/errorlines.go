package extract

import (
	"regexp"
	"strings"
)

// errorPatterns recognize error messages outside of error/log sections.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][\w.$]*(?:Error|Exception)\b`),
	regexp.MustCompile(`(?:^|\s)(?:Error|ERROR|Exception):`),
	regexp.MustCompile(`(?:Fatal|fatal) error:`),
	regexp.MustCompile(`(?:^|\s)panic:`),
	regexp.MustCompile(`^Traceback \(most recent call last\)`),
	regexp.MustCompile(`Minified React error`),
	regexp.MustCompile(`undefined is not an object`),
	regexp.MustCompile(`Cannot read propert(?:y|ies) .* of (?:undefined|null)`),
	regexp.MustCompile(`\b(?:SIGSEGV|SIGABRT|EXC_BAD_ACCESS|Segmentation fault)\b`),
	regexp.MustCompile(`\bE/AndroidRuntime\b`),
	regexp.MustCompile(`^\s*\[?(?:ERROR|FATAL)\]?\s`),
}

// LooksLikeError reports whether a single line reads as an error message.
func LooksLikeError(line string) bool {
	for _, p := range errorPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// ErrorLines returns error strings found in text, in document order and
// without duplicates. Every non-empty line inside an error, log, console or
// stack-trace section counts; elsewhere only lines that look like error
// messages do.
func ErrorLines(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	inErrors := false
	inFence := false
	fencedErrors := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if codeFence.MatchString(line) {
			inFence = !inFence
			switch {
			case inFence && inErrors:
				fencedErrors = true
			case !inFence && fencedErrors:
				// A fenced log block is the whole section.
				inErrors = false
				fencedErrors = false
			}
			continue
		}
		if !inFence {
			if h, ok := parseHeading(line); ok {
				switch {
				case h.field == fieldErrors:
					inErrors = true
					add(h.inline)
				case h.field.block() || h.field == fieldNone:
					inErrors = false
				}
				if h.field != fieldErrors && LooksLikeError(h.inline) {
					add(h.inline)
				}
				continue
			}
		}

		if inErrors || LooksLikeError(line) {
			add(listMarker.ReplaceAllString(line, ""))
		}
	}
	return out
}
