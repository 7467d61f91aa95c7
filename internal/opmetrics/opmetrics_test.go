package opmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"musicd/internal/supervisor"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestHealthzAndMetricsServeState(t *testing.T) {
	sv := supervisor.New("/bin/true", nil, nil)
	addr := freeAddr(t)
	s := New(sv, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	url := fmt.Sprintf("http://%s", addr)
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz (not_started is healthy), got %d", resp.StatusCode)
	}

	resp, err = http.Get(url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snap.State != supervisor.NotStarted.String() {
		t.Fatalf("expected state %q, got %q", supervisor.NotStarted.String(), snap.State)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(6 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
