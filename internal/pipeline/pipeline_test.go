package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/internal/classify"
	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/emit"
	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/evidence"
	"github.com/randalmurphal/triage/internal/history"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/source"
)

var fetchedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	tickets map[string]*source.RawContent
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, id source.Identifier) (*source.RawContent, error) {
	raw, ok := f.tickets[id.Key]
	if !ok {
		return nil, source.ErrNotFound
	}
	c := *raw
	return &c, nil
}

func (f *fakeSource) Search(context.Context, string) (*source.RawContent, error) {
	return nil, errors.New("search index unavailable")
}

type failingHistory struct{ calls int }

func (h *failingHistory) Record(context.Context, history.Run, []classify.Candidate) (string, error) {
	h.calls++
	return "", errors.New("database is locked")
}

type fixture struct {
	pipeline *Pipeline
	output   string
	store    *history.Store
}

func newFixture(t *testing.T, tickets map[string]*source.RawContent, analyzer evidence.Analyzer, mutate func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Evidence.Concurrency = 2
	if mutate != nil {
		mutate(cfg)
	}

	store, err := history.Open(ctx, history.Config{Enabled: true, Driver: "sqlite", DSN: filepath.Join(dir, "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	output := filepath.Join(dir, "bug_record.json")
	reader := source.NewReader(&fakeSource{tickets: tickets}, source.WithClock(func() time.Time { return fetchedAt }))
	p, err := New(Options{
		Reader:   reader,
		Analyzer: analyzer,
		Emitter:  emit.New(output),
		History:  store,
		Config:   cfg,
	})
	require.NoError(t, err)
	return &fixture{pipeline: p, output: output, store: store}
}

func readOutput(t *testing.T, path string) (*record.BugRecord, map[string]any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rec, err := record.Parse(data)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	return rec, raw
}

func TestRun_LoginScenario(t *testing.T) {
	f := newFixture(t, map[string]*source.RawContent{
		"MOB-12": {
			ID:         "MOB-12",
			Properties: map[string]string{"summary": "Login button unresponsive", "platform": "ios"},
		},
	}, nil, nil)

	res, err := f.pipeline.Run(context.Background(), "MOB-12")
	require.NoError(t, err)
	assert.Equal(t, f.output, res.OutputPath)
	assert.NotEmpty(t, res.RunID)

	rec, raw := readOutput(t, f.output)
	for _, key := range record.Keys {
		assert.Contains(t, raw, key)
	}
	env := raw["environment"].(map[string]any)
	for _, key := range record.EnvironmentKeys {
		assert.Contains(t, env, key)
	}
	assert.NotContains(t, raw, "error")

	assert.Equal(t, "MOB-12", rec.ID)
	assert.Equal(t, "Login button unresponsive", rec.Title)
	assert.Equal(t, record.PlatformIOS, rec.Environment.Platform)
	assert.Equal(t, []string{"Swift"}, rec.EstimatedStack)
	assert.Equal(t, []string{}, rec.Screenshots)
	assert.Equal(t, []string{}, rec.ExtractedErrors)
	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, fetchedAt, *rec.Timestamp)
	assert.True(t, rec.TimestampEstimated)
	assert.Contains(t, rec.Notes, "timestamp estimated")

	runs, err := f.store.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusEmitted, runs[0].Status)
	assert.Equal(t, res.OutputSHA256, runs[0].OutputSHA256)
	assert.Equal(t, "fake", runs[0].Source)

	ev, err := f.store.Evidence(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, classify.ConfidenceLow, ev[0].Confidence)
}

func TestRun_PartialScreenshotFailure(t *testing.T) {
	analyzer := evidence.AnalyzerFunc(func(_ context.Context, uri string) ([]string, error) {
		if uri == "https://cdn.acme.com/a.png" {
			return nil, errors.New("403 forbidden")
		}
		return []string{"TypeError: Cannot read property 'id' of undefined"}, nil
	})
	f := newFixture(t, map[string]*source.RawContent{
		"WEB-7": {
			ID:         "WEB-7",
			Text:       "![first](https://cdn.acme.com/a.png)\n![second](https://cdn.acme.com/b.png)\n",
			Properties: map[string]string{"summary": "Profile page blank"},
		},
	}, analyzer, nil)

	res, err := f.pipeline.Run(context.Background(), "WEB-7")
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	assert.Error(t, res.Outcomes[0].Err)
	assert.NoError(t, res.Outcomes[1].Err)

	rec, _ := readOutput(t, f.output)
	assert.Equal(t, []string{"https://cdn.acme.com/a.png", "https://cdn.acme.com/b.png"}, rec.Screenshots)
	assert.Equal(t, []string{"TypeError: Cannot read property 'id' of undefined"}, rec.ExtractedErrors)
	assert.Contains(t, rec.Notes, "screenshot https://cdn.acme.com/a.png unreachable")
	assert.Contains(t, rec.EstimatedStack, "TypeScript")
	assert.NotContains(t, rec.EstimatedStack, record.UnknownLabel)
}

func TestRun_RetrievalFailure(t *testing.T) {
	f := newFixture(t, nil, evidence.AnalyzerFunc(func(context.Context, string) ([]string, error) {
		t.Fatal("no analysis after retrieval failure")
		return nil, nil
	}), nil)

	res, err := f.pipeline.Run(context.Background(), "proj-404")
	require.Error(t, err)
	tErr := triageerrors.AsTriageError(err)
	require.NotNil(t, tErr)
	assert.Equal(t, triageerrors.CodeRetrievalFailed, tErr.Code)
	assert.Contains(t, err.Error(), "search index unavailable")
	require.NotNil(t, res)
	assert.Equal(t, f.output, res.OutputPath)
	assert.NotEmpty(t, res.OutputSHA256)
	assert.NotEmpty(t, res.RunID)

	rec, raw := readOutput(t, f.output)
	assert.Equal(t, record.RetrievalFailureMarker, raw["error"])
	assert.Equal(t, "PROJ-404", rec.ID)
	assert.Empty(t, rec.Title)
	assert.Equal(t, []string{record.UnknownLabel}, rec.EstimatedStack)
	assert.Equal(t, []string{}, rec.ReproductionSteps)
	assert.Nil(t, rec.Timestamp)

	runs, err := f.store.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusRetrievalFailed, runs[0].Status)
	assert.Equal(t, "proj-404", runs[0].Ticket)
}

func TestRun_Idempotent(t *testing.T) {
	created := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, map[string]*source.RawContent{
		"PAY-3": {
			ID: "PAY-3",
			Text: "## Steps to reproduce\n1. Open cart\n2. Press pay\n\n" +
				"## Actual behavior\nBlank page\n\n" +
				"```\nFatal error: Uncaught Exception in /var/www/app.php:123\n```\n",
			Properties: map[string]string{"summary": "Checkout crashes", "reporter": "jane@acme.com"},
			Created:    &created,
		},
	}, nil, nil)

	_, err := f.pipeline.Run(context.Background(), "PAY-3")
	require.NoError(t, err)
	first, err := os.ReadFile(f.output)
	require.NoError(t, err)

	_, err = f.pipeline.Run(context.Background(), "PAY-3")
	require.NoError(t, err)
	second, err := os.ReadFile(f.output)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))

	rec, _ := readOutput(t, f.output)
	assert.Equal(t, []string{"PHP"}, rec.EstimatedStack)
	assert.False(t, rec.TimestampEstimated)
	assert.Equal(t, created, *rec.Timestamp)

	runs, err := f.store.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].OutputSHA256, runs[1].OutputSHA256)
}

func TestRun_InvalidUTF8IsReplacedAndEmitted(t *testing.T) {
	f := newFixture(t, map[string]*source.RawContent{
		"LEG-1": {
			ID:         "LEG-1",
			Text:       "Fatal error: boom in caf\xe9.php",
			Properties: map[string]string{"summary": "Legacy export fails"},
		},
	}, nil, nil)

	res, err := f.pipeline.Run(context.Background(), "LEG-1")
	require.NoError(t, err)
	assert.Equal(t, f.output, res.OutputPath)

	rec, _ := readOutput(t, f.output)
	assert.Equal(t, []string{"Fatal error: boom in caf\uFFFD.php"}, rec.ExtractedErrors)
	assert.Contains(t, rec.Notes, record.NoteInvalidUTF8)
	assert.Equal(t, []string{"PHP"}, rec.EstimatedStack)
}

func TestRun_ValidationFailureEmitsNothing(t *testing.T) {
	f := newFixture(t, map[string]*source.RawContent{
		"X-1": {ID: "X-1"},
	}, nil, func(c *config.Config) { c.Validation.EstimateTimestamp = false })

	res, err := f.pipeline.Run(context.Background(), "X-1")
	require.Error(t, err)
	assert.Equal(t, triageerrors.CodeValidationFailed, triageerrors.AsTriageError(err).Code)
	assert.Contains(t, err.Error(), "title_required")
	assert.Contains(t, err.Error(), "timestamp_required")

	_, statErr := os.Stat(f.output)
	assert.True(t, os.IsNotExist(statErr), "nothing is emitted")
	assert.Empty(t, res.OutputPath)
	require.NotNil(t, res.Record)
	assert.Equal(t, "X-1", res.Record.ID)

	runs, err := f.store.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusValidationFailed, runs[0].Status)
}

func TestRun_PersistenceFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	reader := source.NewReader(&fakeSource{tickets: map[string]*source.RawContent{
		"A-1": {ID: "A-1", Properties: map[string]string{"summary": "Crash"}},
	}}, source.WithClock(func() time.Time { return fetchedAt }))
	p, err := New(Options{Reader: reader, Emitter: emit.New(filepath.Join(blocker, "out.json"))})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "A-1")
	require.Error(t, err)
	assert.Equal(t, triageerrors.CodePersistenceFailed, triageerrors.AsTriageError(err).Code)
}

func TestRun_HistoryFailureIsAbsorbed(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.json")
	hist := &failingHistory{}
	reader := source.NewReader(&fakeSource{tickets: map[string]*source.RawContent{
		"A-2": {ID: "A-2", Properties: map[string]string{"summary": "Crash", "platform": "android"}},
	}}, source.WithClock(func() time.Time { return fetchedAt }))
	p, err := New(Options{Reader: reader, Emitter: emit.New(output), History: hist})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "A-2")
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Equal(t, 1, hist.calls)
	assert.Equal(t, []string{"Kotlin"}, res.Record.EstimatedStack)
}

func TestRun_ClassifierOverride(t *testing.T) {
	c, err := classify.New(classify.WithPlatformHints(false))
	require.NoError(t, err)
	reader := source.NewReader(&fakeSource{tickets: map[string]*source.RawContent{
		"A-3": {ID: "A-3", Properties: map[string]string{"summary": "Crash", "platform": "ios"}},
	}})
	p, err := New(Options{Reader: reader, Emitter: emit.New(filepath.Join(t.TempDir(), "o.json")), Classifier: c})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "A-3")
	require.NoError(t, err)
	assert.Equal(t, []string{record.UnknownLabel}, res.Record.EstimatedStack)
	assert.Empty(t, res.Candidates)
}

func TestNew_Required(t *testing.T) {
	_, err := New(Options{Emitter: emit.New("x.json")})
	require.Error(t, err)

	_, err = New(Options{Reader: source.NewReader(&fakeSource{})})
	require.Error(t, err)
}

func TestRun_Concurrency(t *testing.T) {
	var text string
	for i := 0; i < 6; i++ {
		text += fmt.Sprintf("![s%d](https://cdn.acme.com/%d.png)\n", i, i)
	}
	analyzer := evidence.AnalyzerFunc(func(_ context.Context, uri string) ([]string, error) {
		time.Sleep(time.Duration(len(uri)%3) * time.Millisecond)
		return []string{"panic: from " + uri}, nil
	})
	f := newFixture(t, map[string]*source.RawContent{
		"C-1": {ID: "C-1", Text: text, Properties: map[string]string{"summary": "Worker crash"}},
	}, analyzer, func(c *config.Config) { c.Evidence.Concurrency = 4 })

	res, err := f.pipeline.Run(context.Background(), "C-1")
	require.NoError(t, err)
	require.Len(t, res.Record.ExtractedErrors, 6)
	for i, e := range res.Record.ExtractedErrors {
		assert.Equal(t, fmt.Sprintf("panic: from https://cdn.acme.com/%d.png", i), e, "merged in screenshot order")
	}
	assert.Equal(t, []string{"Go"}, res.Record.EstimatedStack)
}
