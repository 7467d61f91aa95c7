// Package supervisor spawns and restarts the musicd-capture child process,
// applying a best-effort elevated scheduling priority. Grounded on main.go
// and server.go's context-cancel + timeout-bounded shutdown pattern,
// translated from an *http.Server to an *exec.Cmd.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// State is the supervised process's lifecycle state, per spec.md §4.E.
type State int

const (
	NotStarted State = iota
	Running
	Restarting
	CrashedBackoff
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case CrashedBackoff:
		return "crashed_backoff"
	default:
		return "unknown"
	}
}

// restartExitCode is the exit code the child can use to request an
// orderly restart without being treated as a crash.
const restartExitCode = 75

const crashBackoff = 1 * time.Second
const shutdownGrace = 5 * time.Second

// niceValue is the best-effort elevated priority requested for the
// capture child (lower values are higher priority under setpriority(2)).
const niceValue = -5

// Supervisor manages one child process instance, restarting it on crash.
type Supervisor struct {
	path string
	args []string
	env  []string

	mu       sync.Mutex
	state    State
	restarts int
	cmd      *exec.Cmd
}

// New returns a Supervisor that will run path with args once Run is
// called.
func New(path string, args []string, env []string) *Supervisor {
	return &Supervisor{path: path, args: args, env: env, state: NotStarted}
}

// State reports the current lifecycle state.
func (sv *Supervisor) State() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// Restarts reports how many times the child has exited other than with the
// restart exit code (crashes); requested restarts are not counted.
func (sv *Supervisor) Restarts() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.restarts
}

func (sv *Supervisor) setState(s State) {
	sv.mu.Lock()
	sv.state = s
	sv.mu.Unlock()
}

// Run blocks, spawning and restarting the child until ctx is cancelled. On
// cancellation it sends SIGTERM, waits up to shutdownGrace, then SIGKILLs.
func (sv *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sv.setState(Running)
		exitCh := make(chan error, 1)
		cmd, err := sv.start()
		if err != nil {
			return fmt.Errorf("supervisor: start: %w", err)
		}

		go func() { exitCh <- cmd.Wait() }()

		select {
		case <-ctx.Done():
			sv.shutdown(cmd)
			<-exitCh
			return nil
		case err := <-exitCh:
			if sv.isRequestedRestart(cmd) {
				sv.setState(Restarting)
				log.Printf("[supervisor] capture process requested restart")
				continue
			}

			sv.mu.Lock()
			sv.restarts++
			sv.mu.Unlock()

			sv.setState(CrashedBackoff)
			log.Printf("[supervisor] capture process exited (%v), restarting in %s", err, crashBackoff)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(crashBackoff):
			}
		}
	}
}

func (sv *Supervisor) start() (*exec.Cmd, error) {
	cmd := exec.Command(sv.path, sv.args...)
	cmd.Env = sv.env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if err := unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, niceValue); err != nil {
		log.Printf("[supervisor] setpriority: %v (non-fatal)", err)
	}

	sv.mu.Lock()
	sv.cmd = cmd
	sv.mu.Unlock()

	log.Printf("[supervisor] started capture process pid=%d", cmd.Process.Pid)
	return cmd, nil
}

func (sv *Supervisor) shutdown(cmd *exec.Cmd) {
	log.Printf("[supervisor] shutting down capture process pid=%d", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("[supervisor] sigterm: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("[supervisor] capture process did not exit after %s, sending SIGKILL", shutdownGrace)
		_ = cmd.Process.Kill()
	}
}

func (sv *Supervisor) isRequestedRestart(cmd *exec.Cmd) bool {
	if cmd.ProcessState == nil {
		return false
	}
	return cmd.ProcessState.ExitCode() == restartExitCode
}
