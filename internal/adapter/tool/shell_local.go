package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"termagent/internal/domain"
)

// ShellResult is the outcome of one command run.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Truncated is set when either stream went over the byte cap.
	Truncated bool
}

// ShellBackend runs commands for run_shell_command. A non-zero exit is
// reported in the result, not as an error.
type ShellBackend interface {
	Execute(ctx context.Context, command, workDir string) (*ShellResult, error)
	Name() string
}

// LocalShellBackend runs commands with bash -c, or cmd /C on Windows.
type LocalShellBackend struct {
	timeout   time.Duration
	maxOutput int
}

// NewLocalShellBackend creates a local shell backend with a per-command
// timeout and a cap on captured bytes per stream.
func NewLocalShellBackend(timeout time.Duration, maxOutput int) *LocalShellBackend {
	return &LocalShellBackend{timeout: timeout, maxOutput: maxOutput}
}

func (b *LocalShellBackend) Name() string { return "local" }

func (b *LocalShellBackend) Execute(ctx context.Context, command, workDir string) (*ShellResult, error) {
	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "bash", "-c", command)
	}
	cmd.Dir = workDir
	setProcessGroup(cmd)
	// Background children may hold the pipes open after the shell exits.
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: b.maxOutput}
	stderr := &cappedBuffer{limit: b.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := &ShellResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.dropped || stderr.dropped,
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, domain.NewDomainError("LocalShellBackend.Execute", domain.ErrTimeout,
			fmt.Sprintf("command exceeded %s", b.timeout))
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes written and drops the rest
// while reporting full writes, so the child never blocks on a full pipe.
type cappedBuffer struct {
	buf     []byte
	limit   int
	dropped bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - len(c.buf)
	if c.limit <= 0 {
		room = len(p)
	}
	if room < len(p) {
		c.dropped = true
		if room > 0 {
			c.buf = append(c.buf, p[:room]...)
		}
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *cappedBuffer) String() string { return string(c.buf) }
