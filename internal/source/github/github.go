// Package github reads bug tickets from GitHub issues.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/randalmurphal/triage/internal/source"
)

// Compile-time interface check.
var _ source.Source = (*Client)(nil)

func init() {
	source.Register(string(source.KindGitHub), newSource)
}

// ClientConfig configures a GitHub source.
type ClientConfig struct {
	// BaseURL is the GitHub Enterprise URL. Empty means github.com.
	BaseURL string
	// Token is the API token sent as a bearer token.
	Token string
	// Repo is the default "owner/repo" for bare issue numbers and searches.
	Repo string
	// HTTPClient overrides the underlying transport's client.
	HTTPClient *http.Client
}

// Client implements source.Source over go-github.
type Client struct {
	gh   *gogithub.Client
	repo string
}

func newSource(cfg source.Config) (source.Source, error) {
	token, err := source.ResolveToken(cfg, "GITHUB_TOKEN", "GH_TOKEN")
	if err != nil {
		return nil, err
	}
	return NewClient(ClientConfig{
		BaseURL:    cfg.BaseURL,
		Token:      token,
		Repo:       cfg.Project,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
	})
}

// NewClient creates a GitHub source.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := httpClient.Transport
	httpClient.Transport = &bearerTransport{token: cfg.Token, base: base}

	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, parseErr)
		}
		client.UploadURL, parseErr = client.UploadURL.Parse(baseURL + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", cfg.BaseURL, parseErr)
		}
	}

	return &Client{gh: client, repo: strings.Trim(cfg.Repo, "/")}, nil
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the backend name.
func (c *Client) Name() string {
	return string(source.KindGitHub)
}

// Fetch retrieves an issue by number.
func (c *Client) Fetch(ctx context.Context, id source.Identifier) (*source.RawContent, error) {
	if id.Number <= 0 {
		return nil, fmt.Errorf("github issue identifier %q has no issue number", id.Raw)
	}
	owner, repo, err := c.ownerRepo(id.Project)
	if err != nil {
		return nil, err
	}

	issue, resp, err := c.gh.Issues.Get(ctx, owner, repo, int(id.Number))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("github issue %s/%s#%d: %w", owner, repo, id.Number, source.ErrNotFound)
		}
		return nil, fmt.Errorf("github get %s/%s#%d: %w", owner, repo, id.Number, err)
	}
	return convertIssue(owner+"/"+repo, issue), nil
}

// Search returns the best match for query among the repository's issues.
func (c *Client) Search(ctx context.Context, query string) (*source.RawContent, error) {
	q := "is:issue " + strings.TrimSpace(query)
	if c.repo != "" {
		q = "repo:" + c.repo + " " + q
	}

	result, _, err := c.gh.Search.Issues(ctx, q, &gogithub.SearchOptions{
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("github search: %w", err)
	}
	if result == nil || len(result.Issues) == 0 || result.Issues[0] == nil {
		return nil, source.ErrNotFound
	}
	return convertIssue(repoFromURL(result.Issues[0].GetRepositoryURL(), c.repo), result.Issues[0]), nil
}

// CheckAuth validates the token by fetching the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("check auth: %w", err)
	}
	return nil
}

func (c *Client) ownerRepo(project string) (string, string, error) {
	if project == "" {
		project = c.repo
	}
	owner, repo, ok := strings.Cut(project, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github repository %q must be owner/repo (set source.project)", project)
	}
	return owner, repo, nil
}

// repoFromURL extracts "owner/repo" from an API repository URL.
func repoFromURL(u, fallback string) string {
	if i := strings.Index(u, "/repos/"); i >= 0 {
		return u[i+len("/repos/"):]
	}
	return fallback
}

func convertIssue(repo string, issue *gogithub.Issue) *source.RawContent {
	raw := &source.RawContent{
		Source:     string(source.KindGitHub),
		Properties: map[string]string{},
	}
	if issue == nil {
		return raw
	}

	if repo != "" {
		raw.ID = fmt.Sprintf("%s#%d", repo, issue.GetNumber())
	} else {
		raw.ID = fmt.Sprintf("%d", issue.GetNumber())
	}
	raw.URL = issue.GetHTMLURL()
	raw.Text = issue.GetBody()

	setProp(raw, "summary", issue.GetTitle())
	setProp(raw, "status", issue.GetState())
	setProp(raw, "reporter", issue.GetUser().GetLogin())

	var labels []string
	for _, l := range issue.Labels {
		if name := l.GetName(); name != "" {
			labels = append(labels, name)
		}
	}
	setProp(raw, "labels", strings.Join(labels, ","))

	if created := issue.GetCreatedAt(); !created.IsZero() {
		t := created.UTC()
		raw.Created = &t
	}
	return raw
}

func setProp(raw *source.RawContent, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		raw.Properties[key] = v
	}
}
