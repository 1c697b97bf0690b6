package pack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/scene"
)

// newTestPacker wires a packer around fakes.
func newTestPacker(io scene.IO, codec MeshCodec, rec *events.Recorder, runner *fakeRunner, opts Options) *Packer {
	if runner == nil {
		runner = &fakeRunner{}
	}
	return NewPackerForTests(io, codec, rec, runner, opts, os.MkdirTemp, os.RemoveAll)
}

// actions returns the sizereport action names in emission order.
func actions(rec *events.Recorder) []string {
	var out []string
	for _, e := range rec.OfType(events.TypeSizeReport) {
		out = append(out, e.Action)
	}
	return out
}

// logTexts returns logging texts at exactly level.
func logTexts(rec *events.Recorder, level events.Level) []string {
	var out []string
	for _, e := range rec.OfType(events.TypeLogging) {
		if e.Verbosity == level {
			out = append(out, e.Text)
		}
	}
	return out
}

// TestPackOnlyDedupeNamesOutputPacked checks the output name without suffixes.
func TestPackOnlyDedupeNamesOutputPacked(t *testing.T) {
	doc := newFakeDocument()
	io := newFakeIO(doc)
	rec := &events.Recorder{}
	packer := newTestPacker(io, fakeCodec{}, rec, nil, Options{})

	out, err := packer.Pack(context.Background(), domain.PackJob{
		File:        "/assets/cube.glb",
		OutputPath:  "/out",
		PackOptions: domain.PackOptions{DoDedupe: true},
	})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	if out.Name != "cube_packed.glb" {
		t.Fatalf("name = %q, want cube_packed.glb", out.Name)
	}
	wantPath := filepath.Join("/out", "cube_packed.glb")
	if out.Path != wantPath || io.written != wantPath {
		t.Fatalf("path = %q written = %q, want %q", out.Path, io.written, wantPath)
	}
	if len(out.Binary) != 90 {
		t.Fatalf("binary size = %d, want 90", len(out.Binary))
	}
	reports := rec.OfType(events.TypeSizeReport)
	if len(reports) != 1 {
		t.Fatalf("size reports = %d, want 1", len(reports))
	}
	if r := reports[0]; r.Action != "dedupe" || r.StartSize != 100 || r.EndSize != 90 {
		t.Fatalf("report = %+v", r)
	}
}

// TestPackSuffixesFollowPipelineOrder checks every stage runs in fixed order
// and appends its suffix when enabled.
func TestPackSuffixesFollowPipelineOrder(t *testing.T) {
	doc := newFakeDocument()
	io := newFakeIO(doc)
	rec := &events.Recorder{}
	packer := newTestPacker(io, fakeCodec{}, rec, nil, Options{AppendStageSuffixes: true})

	out, err := packer.Pack(context.Background(), domain.PackJob{
		File:       "cube.gltf",
		OutputPath: "out",
		PackOptions: domain.PackOptions{
			DoDraco:      true,
			DoBasis:      true,
			BasisMethod:  domain.BasisPNG,
			DoResize:     true,
			DoWeld:       true,
			DoReorder:    true,
			DoInstancing: true,
			DoDedupe:     true,
		},
	})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	want := "cube_dedupe_instance_reorder_weld_resize_basis_draco_packed.gltf"
	if out.Name != want {
		t.Fatalf("name = %q, want %q", out.Name, want)
	}
	if got := actions(rec); !reflect.DeepEqual(got, Actions()) {
		t.Fatalf("actions = %v, want %v", got, Actions())
	}
	wantTransforms := []string{"dedupe", "instance", "reorder", "weld", "resize", "png"}
	if !reflect.DeepEqual(doc.transforms, wantTransforms) {
		t.Fatalf("transforms = %v, want %v", doc.transforms, wantTransforms)
	}
}

// TestPackSubsetKeepsRelativeOrder checks a sparse subset keeps pipeline
// order and emits nothing for disabled stages.
func TestPackSubsetKeepsRelativeOrder(t *testing.T) {
	doc := newFakeDocument()
	rec := &events.Recorder{}
	packer := newTestPacker(newFakeIO(doc), fakeCodec{}, rec, nil, Options{AppendStageSuffixes: true})

	out, err := packer.Pack(context.Background(), domain.PackJob{
		File:        "cube.glb",
		OutputPath:  "out",
		PackOptions: domain.PackOptions{DoDraco: true, DoWeld: true},
	})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	if out.Name != "cube_weld_draco_packed.glb" {
		t.Fatalf("name = %q", out.Name)
	}
	if got := actions(rec); !reflect.DeepEqual(got, []string{"weld", "draco"}) {
		t.Fatalf("actions = %v", got)
	}
	reports := rec.OfType(events.TypeSizeReport)
	if reports[1].StartSize != reports[0].EndSize {
		t.Fatalf("draco start = %d, want weld end %d", reports[1].StartSize, reports[0].EndSize)
	}
}

// TestPackNoStagesEmitsNoReports checks a job with every stage disabled.
func TestPackNoStagesEmitsNoReports(t *testing.T) {
	doc := newFakeDocument()
	rec := &events.Recorder{}
	packer := newTestPacker(newFakeIO(doc), fakeCodec{}, rec, nil, Options{AppendStageSuffixes: true})

	out, err := packer.Pack(context.Background(), domain.PackJob{File: "scene.glb", OutputPath: "out"})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if out.Name != "scene_packed.glb" {
		t.Fatalf("name = %q", out.Name)
	}
	if n := len(rec.OfType(events.TypeSizeReport)); n != 0 {
		t.Fatalf("size reports = %d, want 0", n)
	}
}

// TestPackMissingPathsFailBeforeIO checks validation happens before reading.
func TestPackMissingPathsFailBeforeIO(t *testing.T) {
	cases := []struct {
		name string
		job  domain.PackJob
		msg  string
	}{
		{name: "file", job: domain.PackJob{OutputPath: "out"}, msg: "no file path specified"},
		{name: "output", job: domain.PackJob{File: "cube.glb"}, msg: "no output path specified"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			io := newFakeIO(newFakeDocument())
			rec := &events.Recorder{}
			packer := newTestPacker(io, fakeCodec{}, rec, nil, Options{})
			tc.job.DoWeld = true

			_, err := packer.Pack(context.Background(), tc.job)

			var packErr *Error
			if !errors.As(err, &packErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if packErr.Stage != "validate" || packErr.Message != tc.msg {
				t.Fatalf("error = %+v", packErr)
			}
			if io.reads != 0 {
				t.Fatalf("reads = %d, want 0", io.reads)
			}
			if n := len(rec.Events()); n != 0 {
				t.Fatalf("events = %d, want 0", n)
			}
		})
	}
}

// TestPackReadFailureIsReadStage checks filesystem errors surface with the
// read stage.
func TestPackReadFailureIsReadStage(t *testing.T) {
	io := newFakeIO(nil)
	io.readErr = os.ErrNotExist
	packer := newTestPacker(io, fakeCodec{}, &events.Recorder{}, nil, Options{})

	_, err := packer.Pack(context.Background(), domain.PackJob{File: "missing.glb", OutputPath: "out"})

	var packErr *Error
	if !errors.As(err, &packErr) || packErr.Stage != "read" {
		t.Fatalf("error = %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
	if _, ok := io.deps[scene.DependencyDracoDecoder]; !ok {
		t.Fatal("decoder should be registered before reading")
	}
}

// TestPackStageFailureAbortsBeforeWrite checks transform errors stop the run
// and no file is written.
func TestPackStageFailureAbortsBeforeWrite(t *testing.T) {
	doc := newFakeDocument()
	doc.failOn = "weld"
	io := newFakeIO(doc)
	rec := &events.Recorder{}
	packer := newTestPacker(io, fakeCodec{}, rec, nil, Options{})

	_, err := packer.Pack(context.Background(), domain.PackJob{
		File:        "cube.glb",
		OutputPath:  "out",
		PackOptions: domain.PackOptions{DoDedupe: true, DoWeld: true, DoDraco: true},
	})

	var packErr *Error
	if !errors.As(err, &packErr) || packErr.Stage != "weld" {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "malformed geometry") {
		t.Fatalf("error text = %q", err.Error())
	}
	if io.written != "" {
		t.Fatalf("unexpected write to %q", io.written)
	}
	if got := actions(rec); !reflect.DeepEqual(got, []string{"dedupe"}) {
		t.Fatalf("actions = %v", got)
	}
}

// TestPackRecoversStagePanic checks panics become stage errors.
func TestPackRecoversStagePanic(t *testing.T) {
	doc := newFakeDocument()
	doc.panicOn = "reorder"
	packer := newTestPacker(newFakeIO(doc), fakeCodec{}, &events.Recorder{}, nil, Options{})

	out, err := packer.Pack(context.Background(), domain.PackJob{
		File:        "cube.glb",
		OutputPath:  "out",
		PackOptions: domain.PackOptions{DoReorder: true},
	})

	var packErr *Error
	if !errors.As(err, &packErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if packErr.Stage != "reorder" || !strings.Contains(packErr.Message, "transform exploded") {
		t.Fatalf("error = %+v", packErr)
	}
	if out.Name != "" {
		t.Fatalf("output should be empty, got %+v", out)
	}
}

// TestPackInstallsDocumentLogger checks document diagnostics reach the
// emitter at debug level.
func TestPackInstallsDocumentLogger(t *testing.T) {
	doc := newFakeDocument()
	rec := &events.Recorder{}
	packer := newTestPacker(newFakeIO(doc), fakeCodec{}, rec, nil, Options{})

	if _, err := packer.Pack(context.Background(), domain.PackJob{File: "a.glb", OutputPath: "out"}); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if doc.logger == nil {
		t.Fatal("document logger not installed")
	}
	doc.logger.Debug("library detail")
	if !containsText(logTexts(rec, events.LevelDebug), "library detail") {
		t.Fatal("debug text not emitted")
	}
}

// TestPackDracoConfiguresExtension checks codec registration and encoder
// options.
func TestPackDracoConfiguresExtension(t *testing.T) {
	doc := newFakeDocument()
	io := newFakeIO(doc)
	packer := newTestPacker(io, fakeCodec{}, &events.Recorder{}, nil, Options{})

	_, err := packer.Pack(context.Background(), domain.PackJob{
		File:       "cube.glb",
		OutputPath: "out",
		PackOptions: domain.PackOptions{
			DoDraco:                 true,
			VertexCompressionMethod: "edgebreaker",
			QuantizationVolume:      "scene",
			QuantizationPosition:    16,
			EncodeSpeed:             3,
		},
	})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	for _, key := range []string{scene.DependencyDracoDecoder, scene.DependencyDracoEncoder} {
		if _, ok := io.deps[key]; !ok {
			t.Fatalf("dependency %s not registered", key)
		}
	}
	ext := doc.extension(scene.ExtDracoMeshCompression)
	if ext == nil || !ext.Required() {
		t.Fatalf("draco extension = %+v", ext)
	}
	opts, ok := ext.Options().(scene.DracoOptions)
	if !ok {
		t.Fatalf("options type = %T", ext.Options())
	}
	if opts.Method != scene.DracoEdgebreaker || opts.QuantizationVolume != "scene" {
		t.Fatalf("options = %+v", opts)
	}
	if opts.QuantizationBits.Position != 16 || opts.QuantizationBits.Normal != 10 || opts.EncodeSpeed != 3 {
		t.Fatalf("options = %+v", opts)
	}
}

// TestPackDracoWithoutCodecFails checks the missing dependency error.
func TestPackDracoWithoutCodecFails(t *testing.T) {
	packer := newTestPacker(newFakeIO(newFakeDocument()), nil, &events.Recorder{}, nil, Options{})

	_, err := packer.Pack(context.Background(), domain.PackJob{
		File:        "cube.glb",
		OutputPath:  "out",
		PackOptions: domain.PackOptions{DoDraco: true},
	})

	if !errors.Is(err, scene.ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

// TestDracoOptionsSequentialDefaults checks fallbacks for unset fields.
func TestDracoOptionsSequentialDefaults(t *testing.T) {
	opts := DracoOptions(domain.PackOptions{VertexCompressionMethod: "sequential", QuantizationVolume: "bogus"})

	want := scene.DefaultDracoOptions()
	want.Method = scene.DracoSequential
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("options = %+v, want %+v", opts, want)
	}
}

// TestErrorFormatting checks messages with and without a cause.
func TestErrorFormatting(t *testing.T) {
	plain := &Error{Stage: "validate", Message: "no file path specified"}
	if plain.Error() != "validate: no file path specified" {
		t.Fatalf("Error() = %q", plain.Error())
	}
	wrapped := &Error{Stage: "read", Message: "cannot read a.glb", Err: os.ErrNotExist}
	if !strings.HasSuffix(wrapped.Error(), os.ErrNotExist.Error()) {
		t.Fatalf("Error() = %q", wrapped.Error())
	}
	var nilErr *Error
	if nilErr.Error() != "" || nilErr.Unwrap() != nil {
		t.Fatal("nil error should be empty")
	}
}
