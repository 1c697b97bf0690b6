// Package proc runs external encoder processes to completion.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the caller's.
	Dir string
}

// NewExecRunner returns a runner in the current working directory.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts name, drains stdout and stderr concurrently with the exit wait
// and returns once all three complete. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for spawn and pipe failures.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", name, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	result := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			result.ExitCode = -1
			return result, fmt.Errorf("wait %s: %w", name, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", name, ctxErr)
		}
	}
	if drainErr != nil {
		return result, fmt.Errorf("drain %s: %w", name, drainErr)
	}
	return result, nil
}

// CommandLine renders name and args for logs.
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
