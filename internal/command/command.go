// Package command runs external executables with a bounded wait.
//
// It is the single place where the service blocks on another process: the
// video fetcher and the WireGuard tools all go through a Runner.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrTimeout indicates the command did not exit within its bounded wait
	ErrTimeout = errors.New("command timed out")

	// ErrNotFound indicates the executable is not installed or not in PATH
	ErrNotFound = errors.New("executable not found")
)

// Result holds the captured output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a command exits with a non-zero code
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// Runner executes a command and waits at most timeout for it to exit.
// A zero timeout means no bound beyond ctx.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error)
}

// WaitDelay bounds how long Run keeps waiting on output pipes after the
// process was killed or exited, in case a grandchild still holds them.
const WaitDelay = 5 * time.Second

// ExecRunner is a Runner backed by os/exec. Each command runs in its own
// process group and a timeout kills the whole group.
type ExecRunner struct{}

// NewExecRunner creates a Runner that spawns real processes
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command, captures stdout and stderr and classifies the exit.
// The returned Result is non-nil whenever the process was started, including
// when it failed or was killed on timeout.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay
	setProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		// Exited cleanly but left a background child holding the pipes
		err = nil
	}
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%s: %w", describe(name, args), ErrTimeout)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &ExitError{
			Command:  describe(name, args),
			ExitCode: exitErr.ExitCode(),
			Stderr:   result.Stderr,
		}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	return nil, fmt.Errorf("failed to run %s: %w", name, err)
}

// describe renders a short command line for error messages
func describe(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// IsTimeout reports whether err was caused by a bounded wait expiring
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Available reports whether the named executable can be found in PATH
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
