// Package watch reruns work when the event store file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period awaited after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors an event store and its write-ahead log.
type Watcher struct {
	watcher  *fsnotify.Watcher
	store    string
	files    map[string]bool
	debounce time.Duration
	log      *slog.Logger
	last     signature
}

// signature identifies the store contents well enough to skip no-op events.
type signature struct {
	modTime time.Time
	size    int64
}

// New watches the store at path. A zero debounce uses DefaultDebounce and
// a nil logger uses slog.Default().
func New(path string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("failed to stat event store: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory containing the file (fsnotify works better this way)
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		watcher: fsWatcher,
		store:   absPath,
		files: map[string]bool{
			absPath:          true,
			absPath + "-wal": true, // SQLite
			absPath + ".wal": true, // DuckDB
		},
		debounce: debounce,
		log:      log.With(slog.String("component", "watch"), slog.String("path", absPath)),
	}
	w.last = w.snapshot()
	return w, nil
}

// Path returns the watched store path.
func (w *Watcher) Path() string {
	return w.store
}

func (w *Watcher) snapshot() signature {
	var sig signature
	for f := range w.files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		if st.ModTime().After(sig.modTime) {
			sig.modTime = st.ModTime()
		}
		sig.size += st.Size()
	}
	return sig
}

// Run calls onChange once writes to the store have been quiet for the
// debounce period. Calls never overlap; writes during a call schedule
// another. An onChange error is logged and watching continues. Run blocks
// until ctx is done and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil || !w.files[absPath] {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			sig := w.snapshot()
			if sig == w.last {
				continue
			}
			w.last = sig

			w.log.Info("event store changed", "size", sig.size, "modified", sig.modTime)
			if err := onChange(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Error("rerun failed", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// Close stops the watcher. Run closes it on return as well.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
