// Package file reads bug tickets from a local directory of YAML, JSON or
// Markdown files. It backs offline runs, fixtures and exported tickets.
package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/triage/internal/source"
)

// Compile-time interface check.
var _ source.Source = (*Dir)(nil)

func init() {
	source.Register("file", newSource)
}

var extensions = []string{".yaml", ".yml", ".json", ".md"}

// textKeys hold the free-text body, in priority order.
var textKeys = []string{"description", "body", "text"}

// Dir is a directory of ticket files named after their ticket ID.
type Dir struct {
	root string
}

func newSource(cfg source.Config) (source.Source, error) {
	return NewDir(cfg.Dir)
}

// NewDir creates a file source over root.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("file source directory is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat ticket directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ticket directory %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

// Name returns the backend name.
func (d *Dir) Name() string {
	return "file"
}

// Fetch loads <root>/<key>.{yaml,yml,json,md}. Key matching is
// case-insensitive.
func (d *Dir) Fetch(ctx context.Context, id source.Identifier) (*source.RawContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := d.list()
	if err != nil {
		return nil, err
	}
	want := map[string]bool{
		strings.ToLower(fileStem(id.Key)): true,
		strings.ToLower(fileStem(id.Raw)): true,
	}
	for _, path := range files {
		if want[strings.ToLower(stem(path))] {
			return d.load(path)
		}
	}
	return nil, fmt.Errorf("ticket file for %s: %w", id.Key, source.ErrNotFound)
}

// Search returns the first file, in name order, whose content contains
// query case-insensitively.
func (d *Dir) Search(ctx context.Context, query string) (*source.RawContent, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, source.ErrNotFound
	}
	files, err := d.list()
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if bytes.Contains(bytes.ToLower(data), []byte(q)) {
			return d.load(path)
		}
	}
	return nil, source.ErrNotFound
}

func (d *Dir) list() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read ticket directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(d.root, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (d *Dir) load(path string) (*source.RawContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ticket file: %w", err)
	}

	raw := &source.RawContent{
		ID:         stem(path),
		Source:     d.Name(),
		URL:        "file://" + path,
		Properties: map[string]string{},
	}

	var fields map[string]any
	body := data
	if strings.EqualFold(filepath.Ext(path), ".md") {
		fields, body, err = splitFrontMatter(data)
	} else {
		err = yaml.Unmarshal(data, &fields)
		body = nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse ticket file %s: %w", filepath.Base(path), err)
	}

	d.apply(raw, fields)
	if len(body) > 0 {
		raw.Text = strings.TrimSpace(string(body))
	}
	return raw, nil
}

// apply maps decoded ticket fields onto raw content. Scalar fields become
// properties, lists become newline-separated properties and a nested
// "properties" or "fields" map is flattened. Keys are visited in sorted
// order and top-level fields win over nested ones, so the result does not
// depend on map iteration.
func (d *Dir) apply(raw *source.RawContent, fields map[string]any) {
	for _, key := range textKeys {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			raw.Text = strings.TrimSpace(s)
			break
		}
	}

	keys := sortedKeys(fields)
	for _, key := range keys {
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "properties", "fields":
			nested, ok := fields[key].(map[string]any)
			if !ok {
				continue
			}
			for _, nk := range sortedKeys(nested) {
				if s := scalar(nested[nk]); s != "" {
					raw.Properties[strings.ToLower(nk)] = s
				}
			}
		}
	}

	for _, key := range keys {
		value := fields[key]
		k := strings.ToLower(strings.TrimSpace(key))
		switch k {
		case "description", "body", "text", "properties", "fields":
		case "id", "key":
			if s := scalar(value); s != "" {
				raw.ID = s
			}
		case "url":
			if s := scalar(value); s != "" {
				raw.URL = s
			}
		case "attachments", "screenshots":
			raw.Attachments = append(raw.Attachments, d.attachments(value)...)
		case "created", "created_at":
			if t, ok := parseTime(value); ok {
				raw.Created = &t
			} else if s := scalar(value); s != "" {
				raw.Properties[k] = s
			}
		default:
			if s := scalar(value); s != "" {
				raw.Properties[k] = s
			}
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// attachments resolves image entries. Relative paths are taken relative
// to the ticket directory.
func (d *Dir) attachments(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		s := scalar(item)
		if s == "" || !source.IsImageName(s) {
			continue
		}
		if !strings.Contains(s, "://") && !filepath.IsAbs(s) {
			s = filepath.Join(d.root, s)
		}
		out = append(out, s)
	}
	return out
}

// splitFrontMatter separates an optional leading "---" YAML block from a
// Markdown body.
func splitFrontMatter(data []byte) (map[string]any, []byte, error) {
	trimmed := bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, []byte("---\n")) && !bytes.HasPrefix(trimmed, []byte("---\r\n")) {
		return nil, data, nil
	}
	rest := trimmed[bytes.IndexByte(trimmed, '\n')+1:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, data, nil
	}
	var fields map[string]any
	if err := yaml.Unmarshal(rest[:end], &fields); err != nil {
		return nil, nil, err
	}
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return fields, body, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := scalar(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// fileStem turns a ticket key into a file name stem ("acme/app#12" -> "acme-app-12").
func fileStem(key string) string {
	return strings.NewReplacer("/", "-", "#", "-", "\\", "-").Replace(strings.TrimSpace(key))
}

// IsTicketFile reports whether name has a ticket file extension.
func IsTicketFile(name string) bool {
	return supported(name)
}

// TicketID returns the ticket ID a file stands for: its name without the
// extension.
func TicketID(path string) string {
	return stem(path)
}
