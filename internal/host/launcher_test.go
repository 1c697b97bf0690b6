package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/worker"
)

// TestHelperProcess is re-executed by the tests below as a fake worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("HOST_HELPER") != "1" {
		return
	}
	emitter := events.NewJSONLEmitter(os.Stdout, nil)
	switch os.Getenv("HOST_HELPER_MODE") {
	case "crash":
		emitter.Emit(events.Event{Type: events.TypeLogging, Verbosity: events.LevelInfo, Text: "starting"})
		fmt.Fprintln(os.Stderr, "fatal: out of memory")
		os.Exit(2)
	case "garbage":
		fmt.Fprintln(os.Stdout, "not json")
		os.Exit(0)
	case "noisy":
		fmt.Fprintln(os.Stderr, strings.Repeat("x", 70*1024))
		chunk := strings.Repeat("y", 1023)
		for i := 0; i < 512; i++ {
			fmt.Fprintln(os.Stderr, chunk)
		}
		emitter.Emit(events.Event{Type: events.TypePackReport, File: &events.PackedFile{Name: "cube_packed.glb"}})
		os.Exit(0)
	case "hang":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	default:
		job, err := worker.DecodeJob(os.Stdin)
		if err != nil {
			emitter.Emit(worker.ErrorReport(err, 0))
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "packing", job.File)
		emitter.Emit(events.Event{Type: events.TypeSizeReport, Action: "weld", StartSize: 100, EndSize: 80})
		emitter.Emit(events.Event{
			Type: events.TypePackReport,
			File: &events.PackedFile{Name: "cube_packed.glb", Path: job.OutputPath + "/cube_packed.glb", Binary: []byte{1, 2, 3}},
			Time: 4,
		})
		emitter.Emit(events.Event{Type: events.TypeLogging, Text: "late"})
		os.Exit(0)
	}
}

// helperLauncher returns a launcher that re-executes the test binary.
func helperLauncher(t *testing.T, mode string) *Launcher {
	t.Helper()
	t.Setenv("HOST_HELPER", "1")
	t.Setenv("HOST_HELPER_MODE", mode)
	return NewLauncher(os.Args[0], nil, "-test.run=TestHelperProcess", "--")
}

// TestLauncherRelaysEventsAndReturnsTerminal verifies the success path.
func TestLauncherRelaysEventsAndReturnsTerminal(t *testing.T) {
	l := helperLauncher(t, "ok")
	var seen []events.Event

	terminal, err := l.Run(context.Background(), domain.PackJob{File: "cube.glb", OutputPath: "/out"}, func(e events.Event) {
		seen = append(seen, e)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if terminal.Type != events.TypePackReport || terminal.File == nil {
		t.Fatalf("terminal = %+v", terminal)
	}
	if terminal.File.Path != "/out/cube_packed.glb" || len(terminal.File.Binary) != 3 {
		t.Fatalf("file = %+v", terminal.File)
	}
	if len(seen) != 2 || seen[0].Type != events.TypeSizeReport || seen[0].Action != "weld" {
		t.Fatalf("forwarded = %+v", seen)
	}
}

// TestLauncherSynthesizesErrorOnCrash checks a worker dying without a report.
func TestLauncherSynthesizesErrorOnCrash(t *testing.T) {
	l := helperLauncher(t, "crash")
	var seen []events.Event

	terminal, err := l.Run(context.Background(), domain.PackJob{File: "cube.glb"}, func(e events.Event) {
		seen = append(seen, e)
	})
	if !errors.Is(err, ErrNoTerminalEvent) {
		t.Fatalf("error = %v, want ErrNoTerminalEvent", err)
	}
	if terminal.Type != events.TypeErrorReport || terminal.Error == nil || terminal.Error.Stage != "worker" {
		t.Fatalf("terminal = %+v", terminal)
	}
	if !strings.Contains(terminal.ErrorMessage, "exit status 2") {
		t.Fatalf("errorMessage = %q", terminal.ErrorMessage)
	}
	if len(seen) != 2 || seen[0].Type != events.TypeLogging || seen[1].Type != events.TypeErrorReport {
		t.Fatalf("forwarded = %+v", seen)
	}
}

// TestLauncherSynthesizesErrorOnGarbage checks undecodable output.
func TestLauncherSynthesizesErrorOnGarbage(t *testing.T) {
	l := helperLauncher(t, "garbage")

	terminal, err := l.Run(context.Background(), domain.PackJob{File: "cube.glb"}, nil)
	if !errors.Is(err, ErrNoTerminalEvent) {
		t.Fatalf("error = %v, want ErrNoTerminalEvent", err)
	}
	if terminal.Type != events.TypeErrorReport {
		t.Fatalf("terminal = %+v", terminal)
	}
}

// TestLauncherDrainsLongStderr checks an oversized stderr line does not stall
// the worker on a full pipe.
func TestLauncherDrainsLongStderr(t *testing.T) {
	l := helperLauncher(t, "noisy")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	terminal, err := l.Run(ctx, domain.PackJob{File: "cube.glb"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if terminal.Type != events.TypePackReport {
		t.Fatalf("terminal = %+v", terminal)
	}
}

// TestLauncherCancel checks a cancelled context kills the worker.
func TestLauncherCancel(t *testing.T) {
	l := helperLauncher(t, "hang")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	terminal, err := l.Run(ctx, domain.PackJob{File: "cube.glb"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrNoTerminalEvent) {
		t.Fatalf("error = %v", err)
	}
	if terminal.Type != events.TypeErrorReport {
		t.Fatalf("terminal = %+v", terminal)
	}
	if time.Since(started) > 10*time.Second {
		t.Fatal("worker was not killed")
	}
}

// TestLauncherMissingBinary checks spawn failures become an errorreport.
func TestLauncherMissingBinary(t *testing.T) {
	l := NewLauncher("/nonexistent/packworker", nil)

	terminal, err := l.Run(context.Background(), domain.PackJob{File: "cube.glb"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if terminal.Type != events.TypeErrorReport || !strings.Contains(terminal.ErrorMessage, "start worker") {
		t.Fatalf("terminal = %+v", terminal)
	}
}

// TestResolveWorkerFallsBackToName checks unknown names pass through.
func TestResolveWorkerFallsBackToName(t *testing.T) {
	if got := ResolveWorker("definitely-not-a-real-packworker"); got != "definitely-not-a-real-packworker" {
		t.Fatalf("ResolveWorker() = %q", got)
	}
	if got := ResolveWorker(os.Args[0]); got != os.Args[0] {
		t.Fatalf("ResolveWorker(existing) = %q", got)
	}
}
