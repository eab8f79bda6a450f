package extract

import (
	"regexp"
	"strings"

	"github.com/randalmurphal/triage/internal/source"
)

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	bareImageURL  = regexp.MustCompile(`(?i)https?://[^\s<>()"'\[\]]+?\.(?:png|jpe?g|gif|webp|bmp|heic)(?:\?[^\s<>()"'\[\]]*)?\b`)
	listSeparator = regexp.MustCompile(`[\s,;]+`)
)

// ImageLinks returns image URIs referenced in text: Markdown images first
// and then bare image URLs, each in document order.
func ImageLinks(text string) []string {
	var out []string
	for _, m := range markdownImage.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	out = append(out, bareImageURL.FindAllString(text, -1)...)
	return out
}

// splitURIs splits a property value listing URIs.
func splitURIs(value string) []string {
	var out []string
	for _, s := range listSeparator.Split(value, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// isImageRef reports whether a listed attachment looks like an image.
func isImageRef(s string) bool {
	return source.IsImageName(s)
}
