package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherRerunsOnWrite(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "events.db")
	if err := os.WriteFile(store, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(store, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			runs.Add(1)
			changed <- struct{}{}
			return errors.New("store locked")
		})
	}()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Fatalf("runs after unrelated write = %d", n)
	}

	// A burst of writes collapses into one rerun.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(store+"-wal", []byte("wal-"+string(rune('a'+i))+"-grows"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no rerun after write")
	}
	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestNewMissingStore(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing.db"), 0, nil); err == nil {
		t.Fatal("expected error")
	}
}
