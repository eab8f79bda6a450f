package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/internal/source"
)

type seen struct {
	mu   sync.Mutex
	auth string
	q    url.Values
}

func (s *seen) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")
	s.q = r.URL.Query()
}

func (s *seen) get() (string, url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth, s.q
}

func newTestServer(t *testing.T) (*httptest.Server, *seen) {
	t.Helper()
	last := &seen{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/issues/12", func(w http.ResponseWriter, r *http.Request) {
		last.record(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":     12,
			"title":      "Login button unresponsive",
			"body":       "## Steps to reproduce\n1. Tap login\n\n![shot](https://example.com/s.png)",
			"state":      "open",
			"html_url":   "https://github.example.com/acme/app/issues/12",
			"user":       map[string]any{"login": "jdoe"},
			"labels":     []map[string]any{{"name": "bug"}, {"name": "ios"}},
			"created_at": "2025-01-15T10:00:00Z",
		})
	})
	mux.HandleFunc("/api/v3/repos/acme/app/issues/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
		last.record(r)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "repo:acme/app is:issue nothing" {
			_, _ = w.Write([]byte(`{"total_count":0,"items":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count": 1,
			"items": []map[string]any{{
				"number":         7,
				"title":          "Crash on checkout",
				"repository_url": "https://github.example.com/api/v3/repos/acme/app",
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, last
}

func TestFetch(t *testing.T) {
	srv, last := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "ghp_test", Repo: "acme/app"})
	require.NoError(t, err)

	raw, err := c.Fetch(context.Background(), source.ParseIdentifier("#12"))
	require.NoError(t, err)

	auth, _ := last.get()
	assert.Equal(t, "Bearer ghp_test", auth)
	assert.Equal(t, "acme/app#12", raw.ID)
	assert.Equal(t, "github", raw.Source)
	assert.Equal(t, "https://github.example.com/acme/app/issues/12", raw.URL)
	assert.Contains(t, raw.Text, "1. Tap login")
	assert.Equal(t, "Login button unresponsive", raw.Properties["summary"])
	assert.Equal(t, "jdoe", raw.Properties["reporter"])
	assert.Equal(t, "bug,ios", raw.Properties["labels"])
	assert.Equal(t, "open", raw.Properties["status"])
	require.NotNil(t, raw.Created)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), *raw.Created)
}

func TestFetch_ProjectFromIdentifier(t *testing.T) {
	srv, _ := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)

	raw, err := c.Fetch(context.Background(), source.ParseIdentifier("acme/app#12"))
	require.NoError(t, err)
	assert.Equal(t, "acme/app#12", raw.ID)
}

func TestFetch_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Repo: "acme/app"})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), source.ParseIdentifier("#404"))
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrNotFound)

	_, err = c.Fetch(context.Background(), source.ParseIdentifier("PROJ-42x"))
	require.Error(t, err, "no issue number")

	noRepo, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)
	_, err = noRepo.Fetch(context.Background(), source.ParseIdentifier("12"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/repo")
}

func TestSearch(t *testing.T) {
	srv, last := newTestServer(t)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Repo: "acme/app"})
	require.NoError(t, err)

	raw, err := c.Search(context.Background(), "checkout crash")
	require.NoError(t, err)
	_, q := last.get()
	assert.Equal(t, "repo:acme/app is:issue checkout crash", q.Get("q"))
	assert.Equal(t, "1", q.Get("per_page"))
	assert.Equal(t, "acme/app#7", raw.ID)
	assert.Equal(t, "Crash on checkout", raw.Properties["summary"])

	_, err = c.Search(context.Background(), "nothing")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
}

func TestNewSource_Token(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("MY_GH_TOKEN", "")

	_, err := source.New(source.Config{Type: "github"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")

	_, err = source.New(source.Config{Type: "github", TokenEnvVar: "MY_GH_TOKEN"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MY_GH_TOKEN")

	t.Setenv("MY_GH_TOKEN", "custom")
	src, err := source.New(source.Config{Type: "GitHub", TokenEnvVar: "MY_GH_TOKEN", Project: "acme/app"})
	require.NoError(t, err)
	assert.Equal(t, "github", src.Name())
}

func TestRepoFromURL(t *testing.T) {
	assert.Equal(t, "acme/app", repoFromURL("https://api.github.com/repos/acme/app", ""))
	assert.Equal(t, "fallback/repo", repoFromURL("", "fallback/repo"))
}
