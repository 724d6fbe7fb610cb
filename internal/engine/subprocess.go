package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/herohde/chessbot/internal/logging"
)

// subprocess wraps a spawned engine binary, exposing its stdout as a line
// channel and its stdin as a line sink — the same shape as
// engine.ReadStdinLines/WriteStdoutLines in the reference engine, just
// pointed at a child process's pipes instead of the controlling process's
// own stdio.
type subprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  <-chan string
	failed chan struct{}
}

func spawn(ctx context.Context, path string, args []string, dir string) (*subprocess, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	lines := make(chan string, 64)
	failed := make(chan struct{})
	go readLines(stdout, lines, failed)

	return &subprocess{cmd: cmd, stdin: stdin, lines: lines, failed: failed}, nil
}

func readLines(r io.Reader, out chan<- string, failed chan struct{}) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	// EOF or read error both mean the subprocess is no longer talking to us.
	close(failed)
}

func (s *subprocess) send(line string) error {
	_, err := fmt.Fprintln(s.stdin, line)
	return err
}

// wait blocks for the subprocess to exit, up to the process's own lifecycle;
// callers enforce their own timeout around this.
func (s *subprocess) wait() error {
	return s.cmd.Wait()
}

func (s *subprocess) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *subprocess) logExit(logger *logging.Logger, path string) {
	logger.Debug("engine subprocess exited", logging.String("path", path))
}
