package jira

import (
	"fmt"
	"strings"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
)

// adfRenderer converts an Atlassian Document Format tree to Markdown and
// collects external media URLs on the way. Unsupported node types render
// as [unsupported: type] so no ticket text is lost silently.
type adfRenderer struct {
	b     strings.Builder
	media []string
}

// RenderADF converts an ADF document to Markdown and returns the external
// media URLs it references, in document order.
func RenderADF(node *models.CommentNodeScheme) (string, []string) {
	if node == nil {
		return "", nil
	}
	r := &adfRenderer{}
	r.node(node, 0, false)
	return strings.TrimRight(r.b.String(), "\n"), r.media
}

func (r *adfRenderer) node(n *models.CommentNodeScheme, depth int, inList bool) {
	if n == nil {
		return
	}

	switch n.Type {
	case "doc":
		r.children(n, depth, false)

	case "paragraph":
		r.children(n, depth, false)
		if inList {
			r.b.WriteString("\n")
		} else {
			r.b.WriteString("\n\n")
		}

	case "heading":
		r.b.WriteString(strings.Repeat("#", attrInt(n.Attrs, "level", 1)))
		r.b.WriteString(" ")
		r.children(n, depth, false)
		r.b.WriteString("\n\n")

	case "text":
		r.b.WriteString(applyMarks(n.Text, n.Marks))

	case "hardBreak":
		r.b.WriteString("\n")

	case "bulletList":
		for _, item := range n.Content {
			r.listItem(item, depth, "- ")
		}
		if depth == 0 {
			r.b.WriteString("\n")
		}

	case "orderedList":
		start := attrInt(n.Attrs, "order", 1)
		for i, item := range n.Content {
			r.listItem(item, depth, fmt.Sprintf("%d. ", start+i))
		}
		if depth == 0 {
			r.b.WriteString("\n")
		}

	case "listItem":
		r.children(n, depth, true)

	case "codeBlock":
		r.b.WriteString("```")
		r.b.WriteString(attrString(n.Attrs, "language"))
		r.b.WriteString("\n")
		r.children(n, depth, false)
		r.b.WriteString("\n```\n\n")

	case "blockquote", "panel":
		inner := &adfRenderer{}
		inner.children(n, depth, false)
		r.media = append(r.media, inner.media...)
		for _, line := range strings.Split(strings.TrimRight(inner.b.String(), "\n"), "\n") {
			r.b.WriteString("> ")
			r.b.WriteString(line)
			r.b.WriteString("\n")
		}
		r.b.WriteString("\n")

	case "rule":
		r.b.WriteString("---\n\n")

	case "mediaSingle", "mediaGroup":
		r.children(n, depth, false)
		r.b.WriteString("\n\n")

	case "media", "mediaInline":
		r.mediaNode(n)

	case "mention":
		name := attrString(n.Attrs, "text")
		if name == "" {
			name = "@mention"
		}
		r.b.WriteString(name)

	case "emoji":
		r.b.WriteString(attrString(n.Attrs, "shortName"))

	case "inlineCard", "blockCard":
		r.b.WriteString(attrString(n.Attrs, "url"))

	case "table":
		r.table(n)

	default:
		r.b.WriteString(fmt.Sprintf("[unsupported: %s]", n.Type))
		r.children(n, depth, inList)
	}
}

func (r *adfRenderer) children(n *models.CommentNodeScheme, depth int, inList bool) {
	for _, c := range n.Content {
		r.node(c, depth, inList)
	}
}

func (r *adfRenderer) listItem(item *models.CommentNodeScheme, depth int, marker string) {
	r.b.WriteString(strings.Repeat("  ", depth))
	r.b.WriteString(marker)
	if item == nil || len(item.Content) == 0 {
		r.b.WriteString("\n")
		return
	}
	for i, c := range item.Content {
		if i == 0 && c.Type == "paragraph" {
			r.children(c, depth+1, true)
			r.b.WriteString("\n")
			continue
		}
		r.node(c, depth+1, true)
	}
}

// mediaNode renders external images as Markdown images so downstream
// screenshot discovery sees them. Attachment-backed media only carry an
// opaque ID; the attachment list supplies their URLs.
func (r *adfRenderer) mediaNode(n *models.CommentNodeScheme) {
	alt := attrString(n.Attrs, "alt")
	if attrString(n.Attrs, "type") == "external" {
		url := attrString(n.Attrs, "url")
		if url != "" {
			r.media = append(r.media, url)
			r.b.WriteString(fmt.Sprintf("![%s](%s)", alt, url))
			return
		}
	}
	if alt == "" {
		alt = attrString(n.Attrs, "id")
	}
	r.b.WriteString(fmt.Sprintf("[media: %s]", alt))
}

func (r *adfRenderer) table(t *models.CommentNodeScheme) {
	var rows [][]string
	for _, row := range t.Content {
		if row.Type != "tableRow" {
			continue
		}
		var cells []string
		for _, cell := range row.Content {
			inner := &adfRenderer{}
			inner.children(cell, 0, false)
			r.media = append(r.media, inner.media...)
			cells = append(cells, strings.TrimSpace(strings.ReplaceAll(inner.b.String(), "\n", " ")))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return
	}

	r.b.WriteString("| " + strings.Join(rows[0], " | ") + " |\n")
	r.b.WriteString("|" + strings.Repeat(" --- |", len(rows[0])) + "\n")
	for _, row := range rows[1:] {
		r.b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	r.b.WriteString("\n")
}

func applyMarks(text string, marks []*models.MarkScheme) string {
	for _, mark := range marks {
		if mark == nil {
			continue
		}
		switch mark.Type {
		case "strong":
			text = "**" + text + "**"
		case "em":
			text = "*" + text + "*"
		case "code":
			text = "`" + text + "`"
		case "strike":
			text = "~~" + text + "~~"
		case "link":
			if href := attrString(mark.Attrs, "href"); href != "" {
				text = "[" + text + "](" + href + ")"
			}
		}
	}
	return text
}

func attrString(attrs map[string]interface{}, key string) string {
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}

func attrInt(attrs map[string]interface{}, key string, fallback int) int {
	switch n := attrs[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}
