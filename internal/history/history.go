// Package history records every pipeline run and the classifier evidence
// behind it in a SQL database.
package history

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/triage/internal/classify"
	"github.com/randalmurphal/triage/internal/db/driver"
)

//go:embed schema
var schemaFS embed.FS

// DefaultSQLitePath is the default history database location.
const DefaultSQLitePath = ".triage/history.db"

// timeLayout keeps created_at lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Status is the outcome of a run.
type Status string

const (
	StatusEmitted           Status = "emitted"
	StatusRetrievalFailed   Status = "retrieval_failed"
	StatusValidationFailed  Status = "validation_failed"
	StatusPersistenceFailed Status = "persistence_failed"
)

// Run is one pipeline execution.
type Run struct {
	ID           string    `json:"id"`
	Ticket       string    `json:"ticket"`
	BugID        string    `json:"bug_id"`
	Source       string    `json:"source"`
	Status       Status    `json:"status"`
	OutputPath   string    `json:"output_path,omitempty"`
	OutputSHA256 string    `json:"output_sha256,omitempty"`
	Stack        []string  `json:"stack"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Config selects the history database.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" json:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
}

// Store persists runs.
type Store struct {
	drv   driver.Driver
	clock func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Open connects to the configured database and applies migrations. An
// empty driver means SQLite; an empty SQLite DSN means DefaultSQLitePath.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	name := cfg.Driver
	if name == "" {
		name = string(driver.DialectSQLite)
	}
	dialect, err := driver.ParseDialect(name)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dialect == driver.DialectSQLite {
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
	} else if dsn == "" {
		return nil, fmt.Errorf("history dsn is required for %s", dialect)
	}

	drv, err := driver.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := drv.Migrate(ctx, schemaFS, "schema/"+string(dialect), "history"); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return New(drv, opts...), nil
}

// New wraps an already migrated driver.
func New(drv driver.Driver, opts ...Option) *Store {
	s := &Store{
		drv:   drv,
		clock: time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.drv.Close()
}

// Record stores a run and its candidates in one transaction. ID and
// CreatedAt are filled in when empty. Returns the run ID.
func (s *Store) Record(ctx context.Context, run Run, candidates []classify.Candidate) (string, error) {
	if run.ID == "" {
		run.ID = s.newID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock()
	}
	stack := run.Stack
	if stack == nil {
		stack = []string{}
	}
	stackJSON, err := json.Marshal(stack)
	if err != nil {
		return "", fmt.Errorf("encode stack: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO runs (id, ticket, bug_id, source, status, output_path, output_sha256, stack, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Ticket, run.BugID, run.Source, string(run.Status), run.OutputPath,
		run.OutputSHA256, string(stackJSON), run.Error, run.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, c := range candidates {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stack_evidence (run_id, position, label, evidence, signature, confidence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, c.Label, c.Evidence, c.Signature, string(c.Confidence),
		); err != nil {
			return "", fmt.Errorf("insert evidence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	committed = true
	return run.ID, nil
}

// List returns the most recent runs, newest first. limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.drv.Query(ctx, `
		SELECT id, ticket, bug_id, source, status, output_path, output_sha256, stack, error, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			status, stack, ts string
		)
		if err := rows.Scan(&r.ID, &r.Ticket, &r.BugID, &r.Source, &status, &r.OutputPath,
			&r.OutputSHA256, &stack, &r.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = Status(status)
		if err := json.Unmarshal([]byte(stack), &r.Stack); err != nil {
			return nil, fmt.Errorf("decode stack for run %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse created_at for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Evidence returns the candidates recorded for a run, in recorded order.
func (s *Store) Evidence(ctx context.Context, runID string) ([]classify.Candidate, error) {
	rows, err := s.drv.Query(ctx, `
		SELECT label, evidence, signature, confidence
		FROM stack_evidence
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []classify.Candidate
	for rows.Next() {
		var c classify.Candidate
		var conf string
		if err := rows.Scan(&c.Label, &c.Evidence, &c.Signature, &conf); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		c.Confidence = classify.Confidence(conf)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}
