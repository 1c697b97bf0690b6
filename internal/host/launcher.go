// Package host starts pack workers and relays their event streams.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
)

// ErrNoTerminalEvent is returned when a worker exits without reporting a
// result.
var ErrNoTerminalEvent = errors.New("worker exited without a terminal event")

// Launcher runs one worker process per job.
type Launcher struct {
	path   string
	args   []string
	logger *zap.Logger
}

// NewLauncher creates a launcher for the worker binary at path. extraArgs
// are passed before the job flag.
func NewLauncher(path string, logger *zap.Logger, extraArgs ...string) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{path: path, args: extraArgs, logger: logger}
}

// Run sends job to a fresh worker on stdin and forwards every decoded event
// to onEvent. It returns the terminal event. When the worker dies or is
// cancelled before reporting, an errorreport is synthesized, forwarded and
// returned together with an error.
func (l *Launcher) Run(ctx context.Context, job domain.PackJob, onEvent func(events.Event)) (events.Event, error) {
	if onEvent == nil {
		onEvent = func(events.Event) {}
	}
	start := time.Now()
	payload, err := json.Marshal(job)
	if err != nil {
		return events.Event{}, fmt.Errorf("encode job: %w", err)
	}

	args := append(append([]string(nil), l.args...), "--job", "-")
	cmd := exec.CommandContext(ctx, l.path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return events.Event{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return events.Event{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return events.Event{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return l.synthesize(onEvent, start, fmt.Errorf("start worker: %w", err))
	}
	l.logger.Debug("worker started", zap.String("path", l.path), zap.Int("pid", cmd.Process.Pid), zap.String("file", job.File))

	var terminal *events.Event
	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		_, err := stdin.Write(payload)
		return err
	})
	g.Go(func() error {
		terminal = l.relay(stdout, onEvent)
		return nil
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			l.logger.Debug("worker", zap.String("stderr", scanner.Text()))
		}
		_, _ = io.Copy(io.Discard, stderr)
		return nil
	})
	writeErr := g.Wait()
	waitErr := cmd.Wait()

	if terminal != nil {
		if waitErr != nil {
			l.logger.Warn("worker exited with error after reporting", zap.Error(waitErr))
		}
		return *terminal, nil
	}

	cause := waitErr
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	}
	if cause == nil {
		cause = writeErr
	}
	if cause == nil {
		cause = errors.New("exit status 0")
	}
	return l.synthesize(onEvent, start, fmt.Errorf("%w: %w", ErrNoTerminalEvent, cause))
}

// relay decodes the event stream until EOF and returns the first terminal
// event. Undecodable output ends decoding; the rest is discarded so the
// worker never blocks on a full pipe.
func (l *Launcher) relay(r io.Reader, onEvent func(events.Event)) *events.Event {
	var terminal *events.Event
	dec := json.NewDecoder(r)
	for {
		var e events.Event
		if err := dec.Decode(&e); err != nil {
			if !errors.Is(err, io.EOF) {
				l.logger.Warn("undecodable worker output", zap.Error(err))
				_, _ = io.Copy(io.Discard, r)
			}
			return terminal
		}
		if terminal != nil {
			l.logger.Warn("event after terminal report ignored", zap.String("type", string(e.Type)))
			continue
		}
		onEvent(e)
		if e.Type.IsTerminal() {
			terminal = &e
		}
	}
}

func (l *Launcher) synthesize(onEvent func(events.Event), start time.Time, err error) (events.Event, error) {
	l.logger.Error("worker failed", zap.Error(err))
	e := events.Event{
		Type:         events.TypeErrorReport,
		Error:        &events.ErrorInfo{Stage: "worker", Message: err.Error()},
		ErrorMessage: err.Error(),
		Time:         float64(time.Since(start)) / float64(time.Millisecond),
	}
	onEvent(e)
	return e, err
}

// ResolveWorker finds the worker binary: an existing path as given, then
// PATH, then next to the running executable.
func ResolveWorker(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), filepath.Base(name))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}
