// Package emit persists bug records as canonical JSON.
package emit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/logging"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/validate"
)

// DefaultPath is where records go when no output path is configured.
const DefaultPath = "bug_record.json"

// StdoutPath writes the record to the emitter's stdout instead of a file.
const StdoutPath = "-"

// Output describes a written record.
type Output struct {
	Path   string
	SHA256 string
	Size   int
}

// Emitter writes records to one well-known path, overwriting prior content.
type Emitter struct {
	path   string
	perm   os.FileMode
	stdout io.Writer
	logger *logging.Logger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPerm sets the file mode of written records.
func WithPerm(perm os.FileMode) Option {
	return func(e *Emitter) { e.perm = perm }
}

// WithStdout sets the writer used when the path is "-".
func WithStdout(w io.Writer) Option {
	return func(e *Emitter) { e.stdout = w }
}

// WithLogger sets the emitter's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// New creates an Emitter for path. An empty path means DefaultPath.
func New(path string, opts ...Option) *Emitter {
	if path == "" {
		path = DefaultPath
	}
	e := &Emitter{
		path:   path,
		perm:   0o644,
		stdout: os.Stdout,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Path returns the output path.
func (e *Emitter) Path() string {
	return e.path
}

// Emit writes a validated record. Failures are PERSISTENCE_FAILED and are
// not retried.
func (e *Emitter) Emit(v *validate.Validated) (*Output, error) {
	if v == nil {
		return nil, triageerrors.ErrPersistenceFailed(e.path).WithCause(fmt.Errorf("no validated record"))
	}
	return e.write(v.JSON())
}

// EmitFailure writes the minimal record produced when retrieval failed.
// It bypasses validation: the record carries only the error marker.
func (e *Emitter) EmitFailure(rec *record.BugRecord) (*Output, error) {
	if rec == nil {
		return nil, triageerrors.ErrPersistenceFailed(e.path).WithCause(fmt.Errorf("no failure record"))
	}
	data, err := rec.MarshalCanonical()
	if err != nil {
		return nil, triageerrors.ErrPersistenceFailed(e.path).WithCause(err)
	}
	return e.write(data)
}

func (e *Emitter) write(data []byte) (*Output, error) {
	sum := sha256.Sum256(data)
	out := &Output{Path: e.path, SHA256: hex.EncodeToString(sum[:]), Size: len(data)}

	if e.path == StdoutPath {
		if _, err := e.stdout.Write(data); err != nil {
			return nil, triageerrors.ErrPersistenceFailed("stdout").WithCause(err)
		}
		return out, nil
	}

	if err := writeFileAtomic(e.path, data, e.perm); err != nil {
		e.logger.Error().Err(err).Str("path", e.path).Msg("write bug record failed")
		return nil, triageerrors.ErrPersistenceFailed(e.path).WithCause(err)
	}
	e.logger.Debug().Str("path", e.path).Int("bytes", len(data)).Msg("bug record written")
	return out, nil
}
