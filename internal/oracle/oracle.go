// Package oracle asks an external UCI engine for the scripted opponent's
// move. The engine is an unreliable collaborator: callers bound the wait
// with a context and retry on failure.
package oracle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/marsdevs/chess-arena/internal/domain"
)

const (
	readyTimeout  = 4 * time.Second
	searchTimeout = 15 * time.Second
)

// DepthFor maps a bot level onto a fixed search depth.
func DepthFor(level domain.BotLevel) int {
	switch level {
	case domain.BotHard:
		return 8
	case domain.BotMedium:
		return 5
	default:
		return 2
	}
}

// UCIEngine runs one engine subprocess, spawned lazily and respawned after
// any protocol failure. Searches are serialized on the session mutex.
type UCIEngine struct {
	binaryPath string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func NewUCIEngine(binaryPath string) (*UCIEngine, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	return &UCIEngine{binaryPath: binaryPath}, nil
}

// ChooseMove returns the engine's best move in UCI notation for the position
// reached by movesUCI.
func (e *UCIEngine) ChooseMove(ctx context.Context, fen string, movesUCI []string, level domain.BotLevel) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(ctx); err != nil {
		return "", err
	}

	best, err := e.search(ctx, movesUCI, DepthFor(level))
	if err != nil {
		e.killLocked()
		return "", err
	}
	if best == "" || best == "(none)" {
		return "", fmt.Errorf("engine returned no move")
	}
	return best, nil
}

func (e *UCIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killLocked()
	return nil
}

func (e *UCIEngine) ensureStarted(ctx context.Context) error {
	if e.cmd != nil {
		return nil
	}

	cmd := exec.Command(e.binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdoutPipe)

	if err := e.handshake(ctx); err != nil {
		e.killLocked()
		return err
	}
	return nil
}

func (e *UCIEngine) handshake(ctx context.Context) error {
	if err := e.send("uci\n"); err != nil {
		return err
	}
	if err := e.waitFor(ctx, "uciok", readyTimeout); err != nil {
		return fmt.Errorf("uci handshake: %w", err)
	}
	if err := e.send("isready\n"); err != nil {
		return err
	}
	if err := e.waitFor(ctx, "readyok", readyTimeout); err != nil {
		return fmt.Errorf("isready: %w", err)
	}
	return nil
}

func (e *UCIEngine) search(ctx context.Context, movesUCI []string, depth int) (string, error) {
	var sb strings.Builder
	sb.WriteString("position startpos")
	if len(movesUCI) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(movesUCI, " "))
	}
	sb.WriteString("\n")
	if err := e.send(sb.String()); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := e.send(fmt.Sprintf("go depth %d\n", depth)); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	deadline := time.Now().Add(searchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		line, err := e.readLine(deadline)
		if err != nil {
			return "", fmt.Errorf("read line: %w", err)
		}
		if strings.HasPrefix(line, "bestmove") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				return parts[1], nil
			}
			return "", fmt.Errorf("malformed bestmove line %q", line)
		}
	}
}

func (e *UCIEngine) send(cmd string) error {
	if e.stdin == nil {
		return fmt.Errorf("engine not running")
	}
	_, err := io.WriteString(e.stdin, cmd)
	return err
}

func (e *UCIEngine) waitFor(ctx context.Context, token string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		line, err := e.readLine(deadline)
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, token) {
			return nil
		}
	}
}

// readLine reads one line, enforcing the deadline on the underlying pipe via
// a watchdog kill: a stuck engine is not worth keeping alive.
func (e *UCIEngine) readLine(deadline time.Time) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := e.stdout.ReadString('\n')
		ch <- result{strings.TrimSpace(line), err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-time.After(time.Until(deadline)):
		return "", fmt.Errorf("engine read timed out")
	}
}

func (e *UCIEngine) killLocked() {
	if e.stdin != nil {
		_, _ = io.WriteString(e.stdin, "quit\n")
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		_, _ = e.cmd.Process.Wait()
	}
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil
}
