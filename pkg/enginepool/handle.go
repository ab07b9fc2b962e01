package enginepool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/health"
)

// handle is one supervised engine child process and its pipes. The
// fields after mu are read and written while holding mu.
type handle struct {
	slot int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string // fed by a dedicated stdout-reading goroutine
	readErr chan error

	state            clustertypes.EngineState
	busySince        time.Time
	healthFails      int
	spawnAttempts    []time.Time // recent spawn timestamps, for fail_window/quarantine
	quarantined      bool
	restartBackoff   time.Duration
	nextRespawnAfter time.Time
}

func newHandle(slot int) *handle {
	return &handle{slot: slot, state: clustertypes.EngineDead}
}

// spawn starts the engine binary and blocks until its ready handshake
// succeeds or spawnTimeout elapses.
func (h *handle) spawn(ctx context.Context, cfg Config) error {
	cmd := exec.Command(cfg.EngineBinary, cfg.EngineArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go scanLines(stdout, lines, readErr)

	h.mu.Lock()
	h.cmd = cmd
	h.stdin = stdin
	h.lines = lines
	h.readErr = readErr
	h.state = clustertypes.EngineIdle
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, cfg.SpawnTimeout)
	defer cancel()
	checker := health.NewEngineChecker(h.send, h.readLine, cfg.ReadyTimeout)
	checker.Command, checker.ExpectLine = cfg.ReadyCommand, cfg.ReadyLine
	result := checker.Check(probeCtx)
	if !result.Healthy {
		h.killLocked(cfg.KillGrace)
		return fmt.Errorf("engine did not become ready: %s", result.Message)
	}
	return nil
}

func scanLines(r io.Reader, lines chan<- string, errc chan<- error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines <- sc.Text()
	}
	errc <- sc.Err()
	close(lines)
}

func (h *handle) send(line string) error {
	h.mu.Lock()
	stdin := h.stdin
	h.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("engine not running")
	}
	_, err := io.WriteString(stdin, line+"\n")
	return err
}

// readLine blocks for the next line of stdout, honoring ctx for
// inactivity timeouts rather than a total-duration bound (spec.md §9).
func (h *handle) readLine(ctx context.Context) (string, error) {
	h.mu.Lock()
	lines := h.lines
	readErr := h.readErr
	h.mu.Unlock()
	if lines == nil {
		return "", fmt.Errorf("engine not running")
	}

	select {
	case line, ok := <-lines:
		if !ok {
			select {
			case err := <-readErr:
				if err != nil {
					return "", err
				}
			default:
			}
			return "", fmt.Errorf("engine stdout closed")
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// exited reports whether the child process has exited but not yet
// been reaped: ProcessState is set once something has called Wait, and
// a zero-signal probe distinguishes a live-but-gone-zombie process
// from one this handle has already reaped.
func (h *handle) exited() bool {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if cmd.ProcessState != nil {
		return false // already reaped by killLocked
	}
	return cmd.Process.Signal(syscall.Signal(0)) != nil
}

// killLocked sends SIGTERM, waiting up to killGrace before SIGKILL.
// Caller must not be holding h.mu.
func (h *handle) killLocked(killGrace time.Duration) {
	h.mu.Lock()
	cmd := h.cmd
	h.state = clustertypes.EngineDead
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(terminateSignal())
	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}

	_ = cmd.Process.Kill()
	<-done
}
