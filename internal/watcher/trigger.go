package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TriggerFileName is the sentinel external hook scripts drop to ask the
// running process for an incremental reindex.
const TriggerFileName = "reindex-trigger.json"

// triggerMaxAge is how long a trigger's timestamp may lag before it's
// considered stale and silently discarded instead of acted on.
const triggerMaxAge = 5 * time.Minute

// TriggerRecord is the on-disk shape of a reindex trigger sentinel.
type TriggerRecord struct {
	Timestamp time.Time `json:"timestamp"`
}

// TriggerWatcher polls a project's data directory for a reindex-trigger
// sentinel file, the mechanism external hook scripts (pre-commit, git
// post-merge, editor plugins) use to ask a running process to pick up
// changes without restarting it.
type TriggerWatcher struct {
	interval time.Duration
	dataDir  string
	onFire   func(ctx context.Context) error

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	errors  chan error
}

// NewTriggerWatcher creates a watcher that polls dataDir every interval
// and calls onFire when it finds a fresh trigger.
func NewTriggerWatcher(dataDir string, interval time.Duration, onFire func(ctx context.Context) error) *TriggerWatcher {
	return &TriggerWatcher{
		interval: interval,
		dataDir:  dataDir,
		onFire:   onFire,
		stopCh:   make(chan struct{}),
		errors:   make(chan error, 10),
	}
}

// Start polls until ctx is cancelled or Stop is called.
func (w *TriggerWatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *TriggerWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	close(w.errors)
	return nil
}

// Errors returns non-fatal errors encountered while polling.
func (w *TriggerWatcher) Errors() <-chan error {
	return w.errors
}

func (w *TriggerWatcher) path() string {
	return filepath.Join(w.dataDir, TriggerFileName)
}

func (w *TriggerWatcher) poll(ctx context.Context) {
	path := w.path()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportError(err)
		}
		return
	}

	var rec TriggerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Malformed trigger: remove it so a bad hook script doesn't spin forever.
		_ = os.Remove(path)
		w.reportError(err)
		return
	}

	// Delete atomically (remove-then-act) before firing, so a trigger can
	// never be acted on twice even if the hook script writes another one
	// mid-run.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.reportError(err)
		return
	}

	if time.Since(rec.Timestamp) > triggerMaxAge {
		slog.Debug("discarding stale reindex trigger",
			slog.Time("timestamp", rec.Timestamp))
		return
	}

	if w.onFire == nil {
		return
	}
	if err := w.onFire(ctx); err != nil {
		w.reportError(err)
	}
}

func (w *TriggerWatcher) reportError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}
