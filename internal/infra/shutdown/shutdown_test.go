package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func quietHandler(timeout time.Duration) *Handler {
	return NewHandler(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitAsync(h *Handler, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()
	return errCh
}

func receive(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
		return nil
	}
}

func TestHandler_ReverseOrder(t *testing.T) {
	h := quietHandler(5 * time.Second)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"storage", "cluster", "http"} {
		h.OnShutdown(name, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	errCh := waitAsync(h, context.Background())
	h.Trigger("test")
	if err := receive(t, errCh); err != nil {
		t.Errorf("Wait() returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, ",") != "http,cluster,storage" {
		t.Errorf("hooks called in order %v, want [http cluster storage]", order)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Wait completes")
	}
}

func TestHandler_HookErrorsJoined(t *testing.T) {
	h := quietHandler(5 * time.Second)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := false

	h.OnShutdown("a", func(context.Context) error { return errA })
	h.OnShutdown("ok", func(context.Context) error { ran = true; return nil })
	h.OnShutdown("b", func(context.Context) error { return errB })

	errCh := waitAsync(h, context.Background())
	h.Trigger("test")
	err := receive(t, errCh)

	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Wait() = %v, want both hook errors", err)
	}
	if !strings.Contains(err.Error(), "b: b failed") {
		t.Errorf("error %q should name the hook", err)
	}
	if !ran {
		t.Error("a failing hook should not stop the others")
	}
}

func TestHandler_HookTimeout(t *testing.T) {
	h := quietHandler(50 * time.Millisecond)
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	errCh := waitAsync(h, context.Background())
	h.Trigger("test")
	if err := receive(t, errCh); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}

func TestHandler_ContextDone(t *testing.T) {
	h := quietHandler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := waitAsync(h, ctx)
	cancel()
	if err := receive(t, errCh); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestHandler_Signals(t *testing.T) {
	h := quietHandler(time.Second)
	reloaded := make(chan struct{}, 1)
	h.OnReload(func() { reloaded <- struct{}{} })

	errCh := waitAsync(h, context.Background())
	// Give Wait time to set up signal handler
	time.Sleep(50 * time.Millisecond)

	syscall.Kill(syscall.Getpid(), syscall.SIGHUP)
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP did not run reload callbacks")
	}

	select {
	case <-h.Done():
		t.Fatal("SIGHUP should not shut down")
	default:
	}

	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	if err := receive(t, errCh); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestHandler_TriggerOnce(t *testing.T) {
	h := quietHandler(time.Second)
	h.Trigger("first")
	h.Trigger("second")

	if err := receive(t, waitAsync(h, context.Background())); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}
