package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/pack"
)

// fakePacker returns canned results.
type fakePacker struct {
	out   pack.Output
	err   error
	calls int
	job   domain.PackJob
}

func (f *fakePacker) Pack(ctx context.Context, job domain.PackJob) (pack.Output, error) {
	f.calls++
	f.job = job
	return f.out, f.err
}

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

// TestRunEmitsPackReport verifies the success path.
func TestRunEmitsPackReport(t *testing.T) {
	packer := &fakePacker{out: pack.Output{Name: "cube_packed.glb", Path: "/out/cube_packed.glb", Binary: []byte("glTF")}}
	rec := &events.Recorder{}
	w := NewForTests(packer, rec, nil, stepClock(1500*time.Microsecond))

	code := w.Run(context.Background(), domain.PackJob{File: "cube.glb", OutputPath: "/out"})
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}

	all := rec.Events()
	if len(all) != 2 {
		t.Fatalf("events = %d, want 2", len(all))
	}
	if all[0].Type != events.TypeLogging || !strings.Contains(all[0].Text, `"file":"cube.glb"`) {
		t.Fatalf("first event = %+v", all[0])
	}
	report := all[1]
	if report.Type != events.TypePackReport || report.File == nil || report.File.Name != "cube_packed.glb" {
		t.Fatalf("report = %+v", report)
	}
	if report.Time != 1.5 {
		t.Fatalf("time = %v, want 1.5", report.Time)
	}
}

// TestRunEmitsErrorReport verifies stage errors are carried to the host.
func TestRunEmitsErrorReport(t *testing.T) {
	packer := &fakePacker{err: &pack.Error{Stage: "validate", Message: "no file path specified"}}
	rec := &events.Recorder{}
	w := NewForTests(packer, rec, nil, stepClock(time.Millisecond))

	code := w.Run(context.Background(), domain.PackJob{OutputPath: "/out"})
	if code != ExitFailed {
		t.Fatalf("exit code = %d, want %d", code, ExitFailed)
	}

	reports := rec.OfType(events.TypeErrorReport)
	if len(reports) != 1 {
		t.Fatalf("error reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.Error == nil || r.Error.Stage != "validate" || r.Error.Message != "no file path specified" {
		t.Fatalf("error = %+v", r.Error)
	}
	if r.ErrorMessage != "validate: no file path specified" {
		t.Fatalf("errorMessage = %q", r.ErrorMessage)
	}
	if len(rec.OfType(events.TypeSizeReport)) != 0 || len(rec.OfType(events.TypePackReport)) != 0 {
		t.Fatal("unexpected non-error reports")
	}
}

// TestErrorReportPlainError checks errors without a stage.
func TestErrorReportPlainError(t *testing.T) {
	e := ErrorReport(errors.New("boom"), 2)
	if e.Error.Stage != "" || e.Error.Message != "boom" || e.ErrorMessage != "boom" || e.Time != 2 {
		t.Fatalf("event = %+v", e)
	}
}

// TestFailEmitsSingleErrorReport checks rejected descriptors.
func TestFailEmitsSingleErrorReport(t *testing.T) {
	rec := &events.Recorder{}
	w := New(&fakePacker{}, rec, nil)

	if code := w.Fail(errors.New("decode job descriptor: EOF")); code != ExitFailed {
		t.Fatalf("exit code = %d", code)
	}
	if n := len(rec.Events()); n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
}

// TestReadJobFromStdinAndFile verifies both descriptor sources.
func TestReadJobFromStdinAndFile(t *testing.T) {
	payload := `{"file":"a.glb","outputPath":"/out","doWeld":true,"basisMethod":"UASTC","uastcLevel":3}`

	job, err := ReadJob("-", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ReadJob(-) error = %v", err)
	}
	if job.File != "a.glb" || job.OutputPath != "/out" || !job.DoWeld || job.UASTCLevel != 3 {
		t.Fatalf("job = %+v", job)
	}

	path := filepath.Join(t.TempDir(), "job.json")
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fromFile, err := ReadJob(path, nil)
	if err != nil {
		t.Fatalf("ReadJob(file) error = %v", err)
	}
	if fromFile != job {
		t.Fatalf("file job = %+v, want %+v", fromFile, job)
	}
}

// TestReadJobErrors checks missing and malformed descriptors.
func TestReadJobErrors(t *testing.T) {
	if _, err := ReadJob("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := ReadJob(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := ReadJob("-", strings.NewReader("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

// TestDecodeJobDefaultsUASTCLevel verifies an absent level keeps the encoder
// default while an explicit zero is preserved.
func TestDecodeJobDefaultsUASTCLevel(t *testing.T) {
	job, err := DecodeJob(strings.NewReader(`{"file":"a.glb","outputPath":"/out","doBasis":true,"basisMethod":"UASTC"}`))
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	if job.UASTCLevel != 2 {
		t.Fatalf("UASTCLevel = %d, want 2", job.UASTCLevel)
	}

	job, err = DecodeJob(strings.NewReader(`{"file":"a.glb","outputPath":"/out","basisMethod":"UASTC","uastcLevel":0}`))
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	if job.UASTCLevel != 0 {
		t.Fatalf("UASTCLevel = %d, want 0", job.UASTCLevel)
	}
}

// TestJobDescriptorIsFlat checks options serialize beside the paths.
func TestJobDescriptorIsFlat(t *testing.T) {
	data, err := json.Marshal(domain.PackJob{File: "a.glb", PackOptions: domain.PackOptions{DoDraco: true}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(`"doDraco":true`)) || bytes.Contains(data, []byte("PackOptions")) {
		t.Fatalf("json = %s", data)
	}
}

// TestPackerOptionsFromConfig checks configuration mapping.
func TestPackerOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Toktx = "/opt/toktx"
	cfg.Pack.AppendStageSuffixes = true
	cfg.Pack.BasisConcurrency = 3
	cfg.Pack.Verbosity = "warn"

	opts := PackerOptions(cfg)
	if opts.ToktxPath != "/opt/toktx" || !opts.AppendStageSuffixes || opts.BasisConcurrency != 3 {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.Verbosity != events.LevelWarn {
		t.Fatalf("verbosity = %v, want warn", opts.Verbosity)
	}
	if NewPacker(cfg, &events.Recorder{}) == nil {
		t.Fatal("expected packer")
	}
}
