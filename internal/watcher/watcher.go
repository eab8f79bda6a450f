// Package watcher monitors a ticket directory and hands new or changed
// ticket files to a handler, one debounced call per ticket.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/triage/internal/logging"
	"github.com/randalmurphal/triage/internal/source/file"
)

// DefaultDebounce is the quiet period before a changed ticket is handled.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes one ticket. It runs on the debouncer's goroutine, so
// calls for different tickets may overlap.
type Handler func(ctx context.Context, ticketID, path string)

// Config configures the watcher.
type Config struct {
	// Dir is the ticket directory.
	Dir     string
	Handler Handler
	Logger  *logging.Logger
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// Existing handles tickets already in Dir when Start is called.
	Existing bool
}

// Watcher monitors a ticket directory for file changes.
type Watcher struct {
	dir      string
	handler  Handler
	logger   *logging.Logger
	existing bool

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	// Content hashing to skip saves that changed nothing
	hashes   map[string]string
	hashesMu sync.Mutex

	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once
	// mu orders inflight.Add against close(done).
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// New creates a watcher. The directory must exist.
func New(cfg Config) (*Watcher, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("ticket directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat ticket directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ticket directory %s is not a directory", cfg.Dir)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		dir:       filepath.Clean(cfg.Dir),
		handler:   cfg.Handler,
		logger:    logger,
		existing:  cfg.Existing,
		fsWatcher: fsWatcher,
		hashes:    make(map[string]string),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
	w.debouncer = NewDebouncer(debounce, w.handleDebounced)
	return w, nil
}

// Start watches the directory until ctx is cancelled. Handler calls in
// progress when ctx ends are waited for.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx = ctx
	if err := w.fsWatcher.Add(w.dir); err != nil {
		_ = w.Stop()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Msg("watching ticket directory")

	if w.existing {
		w.triggerExisting()
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// Stop shuts the watcher down and waits for running handlers.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.done)
		w.mu.Unlock()
		w.debouncer.Stop()
		if cerr := w.fsWatcher.Close(); cerr != nil {
			err = fmt.Errorf("close fsnotify watcher: %w", cerr)
		}
		w.inflight.Wait()
		w.logger.Info().Msg("ticket watcher stopped")
	})
	return err
}

// Done returns a channel that's closed when the watcher stops.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) triggerExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn().Err(err).Msg("list existing tickets")
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if !e.IsDir() && isTicket(path) {
			w.debouncer.Trigger(file.TicketID(path), path)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	if !isTicket(path) {
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.removeHash(path)
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.logger.Debug().Str("op", event.Op.String()).Str("path", path).Msg("ticket file event")
		w.debouncer.Trigger(file.TicketID(path), path)
	}
}

func (w *Watcher) handleDebounced(ticketID, path string) {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return
	default:
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	data, err := os.ReadFile(path)
	if err != nil {
		// Removed between the event and the debounce firing.
		w.logger.Debug().Err(err).Str("path", path).Msg("ticket file unreadable")
		return
	}
	if !w.changed(path, data) {
		return
	}

	w.handler(w.ctx, ticketID, path)
}

// changed records data's hash and reports whether it differs from the
// last one seen for path.
func (w *Watcher) changed(path string, data []byte) bool {
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])

	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	if w.hashes[path] == h {
		return false
	}
	w.hashes[path] = h
	return true
}

func (w *Watcher) removeHash(path string) {
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	delete(w.hashes, path)
}

// isTicket filters out editor swap files and temporary files.
func isTicket(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return file.IsTicketFile(base)
}
