package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func testShutdownLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func TestShutdownManager_RunsHooksOnSignal(t *testing.T) {
	sm := NewShutdownManager(testShutdownLogger(), nil, 5*time.Second)

	var ran atomic.Int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown() }()

	// Give WaitForShutdown a moment to install its signal handler.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal self: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	if ran.Load() != 2 {
		t.Errorf("expected 2 hooks to run, got %d", ran.Load())
	}
}

func TestShutdownManager_ReportsHookFailures(t *testing.T) {
	sm := NewShutdownManager(testShutdownLogger(), nil, 5*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return errors.New("redis close failed")
	})

	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown() }()

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal self: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from failing hook")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestShutdownManager_DrainsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(testShutdownLogger(), server, 5*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown() }()

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal self: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(testShutdownLogger(), nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("expected 30s default, got %v", sm.shutdownTimeout)
	}
}
