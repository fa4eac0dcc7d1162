package source

import (
	"context"
	"sync"
)

// Opener hands each worker a Source for the same event store.
//
// SQLite stores get one read-only handle per worker. A DuckDB file cannot be
// opened twice in one process, so DuckDB workers share a single handle whose
// pool serves them concurrently; Opener.Close releases it.
type Opener struct {
	driver string
	path   string

	mu     sync.Mutex
	shared *SQLSource
}

// NewOpener creates an Opener for the store at path.
func NewOpener(driver, path string) *Opener {
	return &Opener{driver: driver, path: path}
}

// Open returns the source for worker.
func (o *Opener) Open(ctx context.Context, worker int) (Source, error) {
	if o.driver != "duckdb" {
		src, err := Open(o.driver, o.path)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shared == nil {
		src, err := Open(o.driver, o.path)
		if err != nil {
			return nil, err
		}
		o.shared = src
	}
	return sharedSource{o.shared}, nil
}

// Close closes the shared handle, if any.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shared == nil {
		return nil
	}
	err := o.shared.Close()
	o.shared = nil
	return err
}

// sharedSource leaves closing to the Opener.
type sharedSource struct {
	*SQLSource
}

func (sharedSource) Close() error { return nil }
