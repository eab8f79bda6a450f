// Package jira reads bug tickets from Jira Cloud via the REST API v3.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/triage/internal/source"
)

// Compile-time interface check.
var _ source.Source = (*Client)(nil)

func init() {
	source.Register(string(source.KindJira), newSource)
}

// ClientConfig holds the configuration for connecting to a Jira Cloud instance.
type ClientConfig struct {
	// BaseURL is the Jira Cloud instance URL (e.g., "https://acme.atlassian.net").
	BaseURL string
	// Email is the user's email address for basic auth.
	Email string
	// APIToken is the API token for basic auth.
	APIToken string
	// Project restricts fallback searches to one project key.
	Project string
	// Timeout bounds each request.
	Timeout time.Duration
}

// Client wraps the go-atlassian Jira v3 client.
type Client struct {
	jira *v3.Client
	cfg  ClientConfig
}

func newSource(cfg source.Config) (source.Source, error) {
	token, err := source.ResolveToken(cfg, "JIRA_API_TOKEN", "TRIAGE_JIRA_TOKEN")
	if err != nil {
		return nil, err
	}
	return NewClient(ClientConfig{
		BaseURL:  cfg.BaseURL,
		Email:    cfg.Email,
		APIToken: token,
		Project:  cfg.Project,
		Timeout:  cfg.RequestTimeout(),
	})
}

// NewClient creates a new Jira Cloud client with basic auth.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("jira email is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("jira API token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client, err := v3.New(&http.Client{Timeout: cfg.Timeout}, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}

	client.Auth.SetBasicAuth(cfg.Email, cfg.APIToken)
	client.Auth.SetUserAgent("triage/1.0")

	return &Client{jira: client, cfg: cfg}, nil
}

// ticketFields are the Jira fields a bug record can use.
var ticketFields = []string{
	"summary",
	"description",
	"issuetype",
	"status",
	"priority",
	"labels",
	"components",
	"reporter",
	"created",
	"attachment",
}

// Name returns the backend name.
func (c *Client) Name() string {
	return string(source.KindJira)
}

// Fetch retrieves one issue by key.
func (c *Client) Fetch(ctx context.Context, id source.Identifier) (*source.RawContent, error) {
	issue, resp, err := c.jira.Issue.Get(ctx, id.Key, ticketFields, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("jira get %s (status %d): %w", id.Key, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("jira get %s: %w", id.Key, err)
	}
	if issue == nil {
		return nil, source.ErrNotFound
	}
	return c.convertIssue(issue, issueAttachments(resp, "fields.attachment")), nil
}

// Search runs a JQL full-text search and returns the most recently updated hit.
func (c *Client) Search(ctx context.Context, query string) (*source.RawContent, error) {
	jql := buildSearchJQL(query, c.cfg.Project)
	result, resp, err := c.jira.Issue.Search.SearchJQL(ctx, jql, ticketFields, nil, 1, "")
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("jira search (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("jira search: %w", err)
	}
	if result == nil || len(result.Issues) == 0 || result.Issues[0] == nil {
		return nil, source.ErrNotFound
	}
	return c.convertIssue(result.Issues[0], issueAttachments(resp, "issues.0.fields.attachment")), nil
}

// CheckAuth verifies the client can authenticate with Jira.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, resp, err := c.jira.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("jira auth check failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("jira auth check failed: %w", err)
	}
	return nil
}

// buildSearchJQL builds a full-text JQL query, optionally scoped to a project.
func buildSearchJQL(query, project string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(strings.TrimSpace(query))
	jql := fmt.Sprintf(`text ~ "%s"`, escaped)
	if project != "" {
		jql = fmt.Sprintf(`project = "%s" AND %s`, project, jql)
	}
	return jql + " ORDER BY updated DESC"
}

// issueAttachments decodes Jira attachment metadata from the raw response
// body at path. The typed issue fields map "attachment" onto the Confluence
// attachment model, which has no filename, MIME type or content URL.
func issueAttachments(resp *models.ResponseScheme, path string) []*models.IssueAttachmentScheme {
	if resp == nil {
		return nil
	}
	res := gjson.GetBytes(resp.Bytes.Bytes(), path)
	if !res.IsArray() {
		return nil
	}
	var attachments []*models.IssueAttachmentScheme
	if err := json.Unmarshal([]byte(res.Raw), &attachments); err != nil {
		return nil
	}
	return attachments
}

// convertIssue maps a go-atlassian IssueScheme and its attachment metadata
// to raw ticket content.
func (c *Client) convertIssue(issue *models.IssueScheme, attachments []*models.IssueAttachmentScheme) *source.RawContent {
	raw := &source.RawContent{
		Source:     c.Name(),
		Properties: map[string]string{},
	}
	if issue == nil {
		return raw
	}
	raw.ID = issue.Key
	if c.cfg.BaseURL != "" && issue.Key != "" {
		raw.URL = c.cfg.BaseURL + "/browse/" + issue.Key
	}
	f := issue.Fields
	if f == nil {
		return raw
	}

	text, media := RenderADF(f.Description)
	raw.Text = text
	raw.Attachments = append(raw.Attachments, media...)

	setProp(raw, "summary", f.Summary)
	if f.IssueType != nil {
		setProp(raw, "issue_type", f.IssueType.Name)
	}
	if f.Status != nil {
		setProp(raw, "status", f.Status.Name)
	}
	if f.Priority != nil {
		setProp(raw, "priority", f.Priority.Name)
	}
	setProp(raw, "labels", strings.Join(f.Labels, ","))

	var components []string
	for _, comp := range f.Components {
		if comp != nil && comp.Name != "" {
			components = append(components, comp.Name)
		}
	}
	setProp(raw, "components", strings.Join(components, ","))

	if f.Reporter != nil {
		reporter := f.Reporter.EmailAddress
		if reporter == "" {
			reporter = f.Reporter.DisplayName
		}
		setProp(raw, "reporter", reporter)
	}

	if f.Created != nil {
		created := time.Time(*f.Created).UTC()
		raw.Created = &created
	}

	for _, att := range attachments {
		if att == nil || att.Content == "" {
			continue
		}
		if !strings.HasPrefix(att.MimeType, "image/") && !source.IsImageName(att.Filename) {
			continue
		}
		raw.Attachments = append(raw.Attachments, att.Content)
	}

	return raw
}

func setProp(raw *source.RawContent, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		raw.Properties[key] = v
	}
}
