package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/record"
)

// isolate runs the test in an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	cfgFile = ""
	return dir
}

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func setJSON(t *testing.T) {
	t.Helper()
	jsonOut = true
	t.Cleanup(func() { jsonOut = false })
}

func TestClassifyCmd_Stdin(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, newClassifyCmd(), "Fatal error: Uncaught Exception\n\n")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "PHP", lines[0])
	assert.Contains(t, out, "substring:Fatal error")
}

func TestClassifyCmd_ArgsJSON(t *testing.T) {
	isolate(t)
	setJSON(t)

	out, _, err := execute(t, newClassifyCmd(), "", "--platform", "android", "something", "broke")
	require.NoError(t, err)
	assert.Contains(t, out, `"labels": [`)
	assert.Contains(t, out, `"Kotlin"`)
	assert.Contains(t, out, `"confidence": "low"`)
}

func TestClassifyCmd_Unknown(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, newClassifyCmd(), "", "--no-platform-hints", "--platform", "ios", "nothing useful")
	require.NoError(t, err)
	assert.Equal(t, "unknown\n", out)
}

func writeRecord(t *testing.T, dir string, rec *record.BugRecord) string {
	t.Helper()
	data, err := rec.MarshalCanonical()
	require.NoError(t, err)
	path := filepath.Join(dir, "bug_record.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateCmd(t *testing.T) {
	dir := isolate(t)
	ts := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		rec := record.New("PROJ-1")
		rec.Title = "Checkout crashes"
		rec.Timestamp = &ts
		rec.SetStack([]string{"PHP"})
		path := writeRecord(t, dir, rec)

		out, _, err := execute(t, newValidateCmd(), "", path)
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
	})

	t.Run("invalid", func(t *testing.T) {
		rec := record.New("PROJ-2")
		rec.Timestamp = &ts
		rec.SetStack([]string{"PHP", record.UnknownLabel})
		path := writeRecord(t, dir, rec)

		out, _, err := execute(t, newValidateCmd(), "", path)
		require.Error(t, err)
		assert.Equal(t, 4, ExitCode(err))
		assert.Contains(t, out, "title_required")
		assert.Contains(t, out, "estimated_stack_unknown_mixed")
	})

	t.Run("retrieval failure record", func(t *testing.T) {
		path := writeRecord(t, dir, record.RetrievalFailure("PROJ-3"))

		out, _, err := execute(t, newValidateCmd(), "", path)
		require.NoError(t, err)
		assert.Contains(t, out, record.RetrievalFailureMarker)
	})

	t.Run("not json", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, _, err := execute(t, newValidateCmd(), "", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not_serializable")
	})
}

func TestRunCmd_FileSource(t *testing.T) {
	dir := isolate(t)
	tickets := filepath.Join(dir, "tickets")
	require.NoError(t, os.MkdirAll(tickets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tickets, "MOB-12.yaml"), []byte(
		"summary: Login button unresponsive\nplatform: ios\ncreated: 2025-01-15T10:00:00Z\n"), 0o644))
	output := filepath.Join(dir, "out", "bug_record.json")

	out, _, err := execute(t, newRunCmd(), "",
		"MOB-12", "--source", "file", "--dir", tickets, "-o", output, "--no-history")
	require.NoError(t, err)
	assert.Contains(t, out, "MOB-12")
	assert.Contains(t, out, "Swift")
	assert.Contains(t, out, "wrote "+output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	rec, err := record.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Login button unresponsive", rec.Title)
	assert.Equal(t, []string{"Swift"}, rec.EstimatedStack)
	assert.False(t, rec.TimestampEstimated)
}

func TestRunCmd_StdoutOutput(t *testing.T) {
	dir := isolate(t)
	tickets := filepath.Join(dir, "tickets")
	require.NoError(t, os.MkdirAll(tickets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tickets, "WEB-3.md"), []byte(
		"---\nsummary: Blank page\n---\n```\nUncaught TypeError: x is not a function\n```\n"), 0o644))

	out, errOut, err := execute(t, newRunCmd(), "",
		"WEB-3", "--source", "file", "--dir", tickets, "-o", "-", "--no-history")
	require.NoError(t, err)

	rec, err := record.Parse([]byte(out))
	require.NoError(t, err, "stdout holds only the record")
	assert.Equal(t, []string{"TypeScript"}, rec.EstimatedStack)
	assert.Contains(t, errOut, "WEB-3")
}

func TestRunCmd_RetrievalFailure(t *testing.T) {
	dir := isolate(t)
	tickets := filepath.Join(dir, "tickets")
	require.NoError(t, os.MkdirAll(tickets, 0o755))
	output := filepath.Join(dir, "bug_record.json")

	out, _, err := execute(t, newRunCmd(), "",
		"NOPE-1", "--source", "file", "--dir", tickets, "-o", output, "--no-history")
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))
	assert.Contains(t, out, record.RetrievalFailureMarker)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error": "ticket_retrieval_failed"`)
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, newRunCmd(), "", "PROJ-1", "--source", "svn")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestRunCmd_RecordsHistory(t *testing.T) {
	dir := isolate(t)
	tickets := filepath.Join(dir, "tickets")
	require.NoError(t, os.MkdirAll(tickets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tickets, "API-9.yaml"), []byte(
		"summary: Worker crash\ndescription: |\n  panic: runtime error: invalid memory address or nil pointer dereference\n"), 0o644))
	t.Setenv("TRIAGE_HISTORY_DSN", filepath.Join(dir, "history.db"))

	_, _, err := execute(t, newRunCmd(), "",
		"API-9", "--source", "file", "--dir", tickets, "-o", filepath.Join(dir, "o.json"))
	require.NoError(t, err)

	out, _, err := execute(t, newHistoryCmd(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "API-9")
	assert.Contains(t, out, "emitted")
	assert.Contains(t, out, "Go")
}

func TestConfigGetCmd(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, newConfigGetCmd(), "", "source.type")
	require.NoError(t, err)
	assert.Equal(t, "jira\n", out)

	t.Setenv("TRIAGE_SOURCE_TYPE", "gitlab")
	out, _, err = execute(t, newConfigGetCmd(), "", "source.type", "--source")
	require.NoError(t, err)
	assert.Equal(t, "gitlab (from env: TRIAGE_SOURCE_TYPE)\n", out)

	_, _, err = execute(t, newConfigGetCmd(), "", "no.such.key")
	require.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)

	out, _, err := execute(t, newConfigInitCmd(), "")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(".triage", "config.yaml"))
	_, err = os.Stat(filepath.Join(dir, ".triage", "config.yaml"))
	require.NoError(t, err)

	_, _, err = execute(t, newConfigInitCmd(), "")
	require.Error(t, err, "existing config is not overwritten")

	out, _, err = execute(t, newConfigShowCmd(), "", "--source")
	require.NoError(t, err)
	assert.Contains(t, out, "# config file:")
	assert.Contains(t, out, "source.type")
}

func TestSignaturesCmd(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, newSignaturesCmd(), "", "--label", "Rust")
	require.NoError(t, err)
	assert.Contains(t, out, "panicked at")
	assert.NotContains(t, out, "Fatal error")
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, newVersionCmd(), "")
	require.NoError(t, err)
	assert.Equal(t, "triage version "+Version+"\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 3, ExitCode(triageerrors.ErrRetrievalFailed("X-1")))
	assert.Equal(t, 5, ExitCode(triageerrors.ErrPersistenceFailed("out.json")))
	assert.Equal(t, 2, ExitCode(triageerrors.ErrConfigMissing("source.dir")))
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, triageerrors.ErrRetrievalFailed("X-1"))
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))

	buf.Reset()
	PrintError(&buf, errors.New("plain"))
	assert.Equal(t, "Error: plain\n", buf.String())
}

func TestWatchCmd_Existing(t *testing.T) {
	dir := isolate(t)
	tickets := filepath.Join(dir, "tickets")
	require.NoError(t, os.MkdirAll(tickets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tickets, "OPS-5.yaml"), []byte(
		"summary: Import job dies\ndescription: |\n  Traceback (most recent call last)\n"), 0o644))
	records := filepath.Join(dir, "records")

	cmd := newWatchCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dir", tickets, "--out-dir", records, "--existing"})
	t.Setenv("TRIAGE_HISTORY_ENABLED", "false")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	output := filepath.Join(records, "OPS-5.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(output)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	rec, err := record.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"Python"}, rec.EstimatedStack)
}
