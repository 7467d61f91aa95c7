package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"musicd/internal/supervisor"
)

// buildFakeChild writes a tiny shell script standing in for the capture
// binary, since we cannot go-build a real helper binary in this setup.
func buildFakeChild(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "child.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestSupervisorRestartsOnCrash(t *testing.T) {
	path := buildFakeChild(t, "exit 1\n")

	sv := supervisor.New(path, nil, os.Environ())
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sv.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatalf("supervisor did not return after context expired")
	}

	if sv.Restarts() == 0 {
		t.Fatalf("expected at least one restart after repeated crashes")
	}
}

func TestSupervisorGracefulShutdown(t *testing.T) {
	path := buildFakeChild(t, "trap 'exit 0' TERM\nwhile true; do sleep 0.05; done\n")

	sv := supervisor.New(path, nil, os.Environ())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sv.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatalf("supervisor did not shut down gracefully")
	}

	if got := sv.State(); got != supervisor.Running {
		t.Fatalf("expected last observed state Running, got %s", got)
	}
}
