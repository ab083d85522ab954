package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lowforge/internal/logging"
	"lowforge/internal/model"
)

// Executor runs one workflow request to completion. Satisfied by the
// workflow orchestrator.
type Executor interface {
	Execute(ctx context.Context, req *model.Request, humanInLoop bool) *model.Solution
}

// Watcher processes request files appearing in a directory. Writes are
// debounced so a file being copied in is not picked up half-written.
type Watcher struct {
	dir         string
	debounce    time.Duration
	exec        Executor
	humanInLoop bool

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending chan string
}

// New creates a watcher over dir.
func New(dir string, debounce time.Duration, exec Executor, humanInLoop bool) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:         dir,
		debounce:    debounce,
		exec:        exec,
		humanInLoop: humanInLoop,
		timers:      make(map[string]*time.Timer),
		pending:     make(chan string, 64),
	}
}

// Run watches the directory until the context is cancelled. Files
// already present at startup are processed first. Requests run
// sequentially in arrival order.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	logging.Watch("[Watch] Watching %s (debounce=%s)", w.dir, w.debounce)

	// Pick up files that arrived before the watcher started.
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && IsRequestFile(e.Name()) {
				w.schedule(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				w.stopTimers()
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && IsRequestFile(ev.Name) {
				w.schedule(ev.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				w.stopTimers()
				return nil
			}
			logging.WatchError("[Watch] Watcher error: %v", err)

		case path := <-w.pending:
			w.process(ctx, path)
		}
	}
}

// schedule (re)arms the debounce timer for a path; the last write wins.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.pending <- path:
		default:
			logging.WatchError("[Watch] Pending queue full, dropping %s", path)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// process loads and runs one request file, then renames it .done or
// .failed. A file deleted between the event and the debounce firing is
// skipped silently.
func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	req, err := LoadRequest(path)
	if err != nil {
		logging.WatchError("[Watch] Rejecting %s: %v", filepath.Base(path), err)
		w.rename(path, ".failed")
		return
	}

	logging.Watch("[Watch] Running request %s from %s", req.ID, filepath.Base(path))
	sol := w.exec.Execute(ctx, req, w.humanInLoop)

	if sol != nil && sol.RewardDecision != model.DecisionRejected {
		logging.Watch("[Watch] Request %s finished: %s", req.ID, sol.RewardDecision)
		w.rename(path, ".done")
	} else {
		logging.Watch("[Watch] Request %s failed", req.ID)
		w.rename(path, ".failed")
	}
}

func (w *Watcher) rename(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		logging.WatchError("[Watch] Failed to rename %s: %v", path, err)
	}
}
