package confloader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, path string, debounce time.Duration) <-chan string {
	t.Helper()
	changed := make(chan string, 16)
	w, err := NewWatcher(path, func(p string) {
		select {
		case changed <- p:
		default:
		}
	}, WithWatcherLogger(quietLogger()), WithDebounce(debounce))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	w.Start()
	// Give the loop time to start reading events.
	time.Sleep(50 * time.Millisecond)
	return changed
}

func save(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher("/nonexistent/segmesh/segmesh.yaml", func(string) {})
	if err == nil {
		t.Error("NewWatcher() expected error for a missing directory")
	}
}

func TestWatcher_Save(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segmesh.yaml")
	save(t, path, "log:\n  level: info\n")

	changed := startWatcher(t, path, 20*time.Millisecond)

	save(t, filepath.Join(dir, "notes.txt"), "sibling")
	save(t, path, "log:\n  level: debug\n")

	select {
	case got := <-changed:
		if got != path {
			t.Errorf("onChange path = %q, want %q", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("save was not reported")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segmesh.yaml")
	save(t, path, "a: 0\n")

	changed := startWatcher(t, path, 0)
	save(t, filepath.Join(dir, "other.yaml"), "b: 1\n")

	select {
	case got := <-changed:
		t.Fatalf("sibling write reported as %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segmesh.yaml")
	save(t, path, "a: 0\n")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(string) { calls.Add(1) },
		WithWatcherLogger(quietLogger()), WithDebounce(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.Start()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		save(t, path, "a: 1\n")
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(600 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("onChange calls = %d, want 1 for a burst of writes", got)
	}
}

func TestWatcher_RenameOntoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segmesh.yaml")
	save(t, path, "a: 0\n")

	changed := startWatcher(t, path, 0)

	tmp := filepath.Join(dir, ".segmesh.yaml.swp")
	save(t, tmp, "a: 1\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("rename onto the file was not reported")
	}
}

func TestWatcher_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segmesh.yaml")
	save(t, path, "a: 0\n")

	w, err := NewWatcher(path, func(string) {}, WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start()
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Never started.
	w, err = NewWatcher(path, func(string) {}, WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() without Start error = %v", err)
	}
}
