package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/internal/source"
)

const issueJSON = `{
	"id": 1001,
	"iid": 7,
	"project_id": 55,
	"title": "Checkout crashes on submit",
	"description": "Steps to reproduce:\n1. Add item\n2. Pay\n\n![crash](/uploads/abc123/crash.png)",
	"state": "opened",
	"web_url": "https://gitlab.example.com/acme/shop/-/issues/7",
	"author": {"id": 3, "username": "jdoe", "name": "J Doe"},
	"labels": ["bug", "web"],
	"created_at": "2025-02-01T08:30:00Z"
}`

type recorder struct {
	mu     sync.Mutex
	token  string
	search string
}

func newTestServer(t *testing.T) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.token = r.Header.Get("PRIVATE-TOKEN")
		rec.search = r.URL.Query().Get("search")
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/issues/7"):
			_, _ = w.Write([]byte(issueJSON))
		case strings.HasSuffix(r.URL.Path, "/issues"):
			if r.URL.Query().Get("search") == "nothing" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte("[" + issueJSON + "]"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"404 Not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestFetch(t *testing.T) {
	srv, rec := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "glpat-test", Project: "acme/shop"})
	require.NoError(t, err)

	raw, err := c.Fetch(context.Background(), source.ParseIdentifier("7"))
	require.NoError(t, err)

	rec.mu.Lock()
	assert.Equal(t, "glpat-test", rec.token)
	rec.mu.Unlock()

	assert.Equal(t, "acme/shop#7", raw.ID)
	assert.Equal(t, "gitlab", raw.Source)
	assert.Equal(t, "https://gitlab.example.com/acme/shop/-/issues/7", raw.URL)
	assert.Contains(t, raw.Text, "![crash](https://gitlab.example.com/acme/shop/uploads/abc123/crash.png)")
	assert.Equal(t, "Checkout crashes on submit", raw.Properties["summary"])
	assert.Equal(t, "jdoe", raw.Properties["reporter"])
	assert.Equal(t, "bug,web", raw.Properties["labels"])
	require.NotNil(t, raw.Created)
	assert.Equal(t, time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC), *raw.Created)
}

func TestFetch_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Project: "acme/shop"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), source.ParseIdentifier("99"))
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrNotFound)

	noProject, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)
	_, err = noProject.Fetch(context.Background(), source.ParseIdentifier("7"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project")

	_, err = noProject.Search(context.Background(), "crash")
	require.Error(t, err)
}

func TestSearch(t *testing.T) {
	srv, rec := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Project: "acme/shop"})
	require.NoError(t, err)

	raw, err := c.Search(context.Background(), " checkout crash ")
	require.NoError(t, err)
	rec.mu.Lock()
	assert.Equal(t, "checkout crash", rec.search)
	rec.mu.Unlock()
	assert.Equal(t, "acme/shop#7", raw.ID)

	_, err = c.Search(context.Background(), "nothing")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestAbsolutizeUploads(t *testing.T) {
	text := "see ![a](/uploads/x/a.png) and [log](/uploads/y/log.txt) and ![b](https://cdn/b.png)"
	got := absolutizeUploads(text, "https://gl/acme/shop")
	assert.Equal(t, "see ![a](https://gl/acme/shop/uploads/x/a.png) and [log](https://gl/acme/shop/uploads/y/log.txt) and ![b](https://cdn/b.png)", got)
	assert.Equal(t, text, absolutizeUploads(text, ""))
}

func TestProjectWebURL(t *testing.T) {
	assert.Equal(t, "https://gl/acme/shop", projectWebURL("https://gl/acme/shop/-/issues/7"))
	assert.Equal(t, "", projectWebURL("https://gl/acme/shop"))
}

func TestNewSource_Token(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	t.Setenv("GITLAB_PRIVATE_TOKEN", "")

	_, err := source.New(source.Config{Type: "gitlab"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITLAB_TOKEN or GITLAB_PRIVATE_TOKEN")

	t.Setenv("GITLAB_PRIVATE_TOKEN", "glpat")
	src, err := source.New(source.Config{Type: "gitlab", Project: "acme/shop"})
	require.NoError(t, err)
	assert.Equal(t, "gitlab", src.Name())
}
