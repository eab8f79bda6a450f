// Package gitlab reads bug tickets from GitLab issues.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/triage/internal/source"
)

// Compile-time interface check.
var _ source.Source = (*Client)(nil)

func init() {
	source.Register(string(source.KindGitLab), newSource)
}

// ClientConfig configures a GitLab source.
type ClientConfig struct {
	// BaseURL is the self-hosted instance URL. Empty means gitlab.com.
	BaseURL string
	// Token is a personal or project access token.
	Token string
	// Project is the default "group/project" path for bare issue numbers and searches.
	Project string
	// HTTPClient overrides the client used for API calls.
	HTTPClient *http.Client
}

// Client implements source.Source over the GitLab API client.
type Client struct {
	gl      *gogitlab.Client
	project string
}

func newSource(cfg source.Config) (source.Source, error) {
	token, err := source.ResolveToken(cfg, "GITLAB_TOKEN", "GITLAB_PRIVATE_TOKEN")
	if err != nil {
		return nil, err
	}
	return NewClient(ClientConfig{
		BaseURL:    cfg.BaseURL,
		Token:      token,
		Project:    cfg.Project,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
	})
}

// NewClient creates a GitLab source.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}

	var opts []gogitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/api/v4"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, gogitlab.WithHTTPClient(cfg.HTTPClient))
	}

	client, err := gogitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}
	return &Client{gl: client, project: strings.Trim(cfg.Project, "/")}, nil
}

// Name returns the backend name.
func (c *Client) Name() string {
	return string(source.KindGitLab)
}

// Fetch retrieves an issue by project path and IID.
func (c *Client) Fetch(ctx context.Context, id source.Identifier) (*source.RawContent, error) {
	if id.Number <= 0 {
		return nil, fmt.Errorf("gitlab issue identifier %q has no issue number", id.Raw)
	}
	project := id.Project
	if project == "" {
		project = c.project
	}
	if project == "" {
		return nil, fmt.Errorf("gitlab project is required for issue %d (set source.project)", id.Number)
	}

	issue, resp, err := c.gl.Issues.GetIssue(project, id.Number, gogitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("gitlab issue %s#%d: %w", project, id.Number, source.ErrNotFound)
		}
		return nil, fmt.Errorf("gitlab get %s#%d: %w", project, id.Number, err)
	}
	return convertIssue(project, issue), nil
}

// Search returns the most relevant project issue matching query.
func (c *Client) Search(ctx context.Context, query string) (*source.RawContent, error) {
	if c.project == "" {
		return nil, fmt.Errorf("gitlab search requires a project (set source.project)")
	}

	opts := &gogitlab.ListProjectIssuesOptions{
		ListOptions: gogitlab.ListOptions{PerPage: 1},
		Search:      gogitlab.Ptr(strings.TrimSpace(query)),
	}
	issues, _, err := c.gl.Issues.ListProjectIssues(c.project, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab search: %w", err)
	}
	if len(issues) == 0 || issues[0] == nil {
		return nil, source.ErrNotFound
	}
	return convertIssue(c.project, issues[0]), nil
}

// CheckAuth validates the token by fetching the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, _, err := c.gl.Users.CurrentUser(gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

func convertIssue(project string, issue *gogitlab.Issue) *source.RawContent {
	raw := &source.RawContent{
		Source:     string(source.KindGitLab),
		Properties: map[string]string{},
	}
	if issue == nil {
		return raw
	}

	raw.ID = fmt.Sprintf("%s#%d", project, issue.IID)
	raw.URL = issue.WebURL
	raw.Text = absolutizeUploads(issue.Description, projectWebURL(issue.WebURL))

	setProp(raw, "summary", issue.Title)
	setProp(raw, "status", issue.State)
	if issue.Author != nil {
		setProp(raw, "reporter", issue.Author.Username)
	}
	setProp(raw, "labels", strings.Join(issue.Labels, ","))

	if issue.CreatedAt != nil {
		t := issue.CreatedAt.UTC()
		raw.Created = &t
	}
	return raw
}

// projectWebURL strips the issue suffix from an issue web URL.
func projectWebURL(issueURL string) string {
	if i := strings.Index(issueURL, "/-/"); i >= 0 {
		return issueURL[:i]
	}
	return ""
}

var relativeUpload = regexp.MustCompile(`\]\((/uploads/[^)\s]+)\)`)

// absolutizeUploads rewrites project-relative upload links so screenshots
// can be fetched outside GitLab's UI.
func absolutizeUploads(text, projectURL string) string {
	if projectURL == "" {
		return text
	}
	return relativeUpload.ReplaceAllString(text, "]("+projectURL+"$1)")
}

func setProp(raw *source.RawContent, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		raw.Properties[key] = v
	}
}
