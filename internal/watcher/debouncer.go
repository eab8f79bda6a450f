package watcher

import (
	"sync"
	"time"
)

// debounceEntry tracks a pending debounced event.
type debounceEntry struct {
	timer *time.Timer
	path  string
}

// Debouncer coalesces rapid file change events per ticket.
// It waits for a quiet period before firing the callback.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[string]*debounceEntry
	interval time.Duration
	callback func(ticketID, path string)
	stopped  bool
}

// NewDebouncer creates a debouncer with the given interval.
func NewDebouncer(interval time.Duration, callback func(ticketID, path string)) *Debouncer {
	return &Debouncer{
		pending:  make(map[string]*debounceEntry),
		interval: interval,
		callback: callback,
	}
}

// Trigger registers a change for ticketID. A pending event for the same
// ticket has its timer reset and its path replaced.
func (d *Debouncer) Trigger(ticketID, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if entry, exists := d.pending[ticketID]; exists {
		entry.timer.Stop()
		entry.path = path
		entry.timer = time.AfterFunc(d.interval, func() { d.fire(ticketID) })
		return
	}

	d.pending[ticketID] = &debounceEntry{
		path:  path,
		timer: time.AfterFunc(d.interval, func() { d.fire(ticketID) }),
	}
}

func (d *Debouncer) fire(ticketID string) {
	d.mu.Lock()
	entry, exists := d.pending[ticketID]
	if !exists || d.stopped {
		d.mu.Unlock()
		return
	}
	path := entry.path
	delete(d.pending, ticketID)
	d.mu.Unlock()

	// Call the callback outside the lock
	d.callback(ticketID, path)
}

// Stop cancels all pending timers and prevents new events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for id, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, id)
	}
}

// PendingCount returns the number of pending debounced events.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
