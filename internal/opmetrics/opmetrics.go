// Package opmetrics exposes a minimal HTTP /healthz and /metrics surface
// for the supervisor, grounded on the teacher's metrics.go ticker-based
// logging loop, adapted to an HTTP endpoint since this appliance has no
// equivalent to the teacher's Room.Stats() broadcast consumer.
package opmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"musicd/internal/supervisor"
)

// Snapshot is the point-in-time state served at /metrics.
type Snapshot struct {
	State     string `json:"state"`
	Restarts  int    `json:"restarts"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// Server serves /healthz and /metrics describing a supervised process.
type Server struct {
	sv        *supervisor.Supervisor
	startedAt time.Time
	httpSrv   *http.Server

	mu sync.Mutex
}

// New builds a Server bound to sv, listening on addr.
func New(sv *supervisor.Supervisor, addr string) *Server {
	s := &Server{sv: sv, startedAt: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.sv.State() == supervisor.CrashedBackoff {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "crashed_backoff")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{
		State:     s.sv.State().String(),
		Restarts:  s.sv.Restarts(),
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// shuts it down with a bounded grace period, mirroring server.go's
// context-cancel + httpSrv.Shutdown(shutdownCtx) idiom.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[opmetrics] shutdown: %v", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
