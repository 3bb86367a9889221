// Package command runs external helper programs. All subprocess execution in
// the bot goes through here so timeouts and error reporting stay uniform.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a helper run when the caller sets no deadline.
const DefaultTimeout = 5 * time.Minute

// waitDelay bounds how long output pipes are drained after a kill.
const waitDelay = 2 * time.Second

// Result holds the separated output streams of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	Stderr   string
	ExitCode int
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command failed: %s (exit code %d)", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Run executes name with args and returns its stdout and stderr separately.
// If the context has no deadline DefaultTimeout applies.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	return NewCommand(name, args...).WithContext(ctx).Run()
}

// Builder provides a fluent interface for building and executing commands.
type Builder struct {
	ctx     context.Context
	name    string
	dir     string
	args    []string
	env     []string
	timeout time.Duration
}

// NewCommand creates a new Builder for the given command.
func NewCommand(name string, args ...string) *Builder {
	return &Builder{
		name:    name,
		args:    args,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
	}
}

// WithDir sets the working directory. Relative script arguments resolve against it.
func (cb *Builder) WithDir(dir string) *Builder {
	cb.dir = dir
	return cb
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func (cb *Builder) WithEnv(kv ...string) *Builder {
	cb.env = append(cb.env, kv...)
	return cb
}

// WithTimeout sets the timeout applied when the context has no deadline.
// Zero disables it.
func (cb *Builder) WithTimeout(timeout time.Duration) *Builder {
	cb.timeout = timeout
	return cb
}

// WithContext sets the context for the command execution.
func (cb *Builder) WithContext(ctx context.Context) *Builder {
	cb.ctx = ctx
	return cb
}

// Run executes the command.
func (cb *Builder) Run() (Result, error) {
	ctx := cb.ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cb.name, cb.args...)
	cmd.Dir = cb.dir
	cmd.WaitDelay = waitDelay
	if len(cb.env) > 0 {
		cmd.Env = append(os.Environ(), cb.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err == nil {
		return res, nil
	}

	line := strings.TrimSpace(cb.name + " " + strings.Join(cb.args, " "))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command %s: %w", line, ctxErr)
		}
		return res, &ExitError{Command: line, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("command failed: %s: %w", line, err)
}

// LastLine returns the last non-empty line of out. Helpers print progress
// first and their result last.
func LastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
