package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrCommandTimeout is returned when a subprocess outlives its timeout and is killed.
var ErrCommandTimeout = errors.New("command timed out")

// maxCommandOutput caps captured stdout/stderr per subprocess.
const maxCommandOutput = 16 * 1024 * 1024

// CommandRunner runs a subprocess and returns its stdout.
// Components take one so tests can substitute canned output.
type CommandRunner func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)

// RunCommand executes name with args, killing it when timeout elapses.
// Stderr is folded into the returned error on failure.
func RunCommand(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = cfg.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second
	stdout := &cappedBuffer{limit: maxCommandOutput}
	stderr := &cappedBuffer{limit: 64 * 1024}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("command killed after timeout",
				slog.String("cmd", name), slog.Duration("timeout", timeout))
			return nil, fmt.Errorf("%s: %w after %s", name, ErrCommandTimeout, timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, Truncate(msg, 512))
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	slog.Debug("command finished", slog.String("cmd", name), slog.Duration("elapsed", time.Since(start)))
	return stdout.Bytes(), nil
}

// cappedBuffer silently drops writes past limit so a chatty child cannot exhaust memory.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.Len(); room < len(p) {
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return n, nil
	}
	b.Buffer.Write(p)
	return n, nil
}
