package emit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/validate"
)

func validated(t *testing.T) *validate.Validated {
	t.Helper()
	r := record.New("BUG-1a2b3c4d")
	r.Title = "Checkout <button> & total"
	r.ReproductionSteps = []string{"Open cart", "Press pay"}
	ts := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	r.Timestamp = &ts
	r.EstimatedStack = []string{"PHP"}
	r.Notes = []string{"customer_account not found"}
	v, err := validate.Validate(r)
	require.NoError(t, err)
	return v
}

func TestEmit_WritesCanonicalJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "bug.json")
	e := New(path)

	v := validated(t)
	out, err := e.Emit(v)
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)
	assert.Len(t, out.SHA256, 64)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, v.JSON(), data)
	assert.Equal(t, len(data), out.Size)
	assert.Contains(t, string(data), `"title": "Checkout <button> & total"`, "HTML is not escaped")
	assert.True(t, bytes.HasSuffix(data, []byte("\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestEmit_ByteIdenticalReruns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bug.json")
	e := New(path)

	first, err := e.Emit(validated(t))
	require.NoError(t, err)
	a, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := e.Emit(validated(t))
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, first.SHA256, second.SHA256)
}

func TestEmit_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bug.json")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than nothing"), 0o644))

	v := validated(t)
	_, err := New(path).Emit(v)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, v.JSON(), data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestEmit_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	path := filepath.Join(blocker, "bug.json")
	_, err := New(path).Emit(validated(t))
	require.Error(t, err)

	tErr := triageerrors.AsTriageError(err)
	require.NotNil(t, tErr)
	assert.Equal(t, triageerrors.CodePersistenceFailed, tErr.Code)
	assert.True(t, tErr.Fatal())
	assert.Contains(t, err.Error(), path)

	_, err = New(path).EmitFailure(record.RetrievalFailure("PROJ-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, triageerrors.ErrPersistenceFailed("")))
}

func TestEmit_Nil(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.json")).Emit(nil)
	require.Error(t, err)
}

func TestEmitFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bug.json")
	_, err := New(path).EmitFailure(record.RetrievalFailure("PROJ-404"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rec, err := record.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-404", rec.ID)
	assert.Equal(t, record.RetrievalFailureMarker, rec.Error)
	assert.Equal(t, []string{record.UnknownLabel}, rec.EstimatedStack)
	assert.Contains(t, string(data), `"error": "ticket_retrieval_failed"`)
}

func TestEmit_Stdout(t *testing.T) {
	var buf bytes.Buffer
	e := New(StdoutPath, WithStdout(&buf))

	v := validated(t)
	out, err := e.Emit(v)
	require.NoError(t, err)
	assert.Equal(t, StdoutPath, out.Path)
	assert.Equal(t, v.JSON(), buf.Bytes())
}

func TestNew_DefaultPath(t *testing.T) {
	assert.Equal(t, DefaultPath, New("").Path())
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "f.json")

	require.NoError(t, writeFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
