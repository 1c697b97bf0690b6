// Package pack runs the ordered size-reduction pipeline over one scene file.
package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/proc"
	"asset-packer/internal/scene"
)

// Output is the packed artifact of one successful run.
type Output struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Binary []byte `json:"binary"`
}

// Error is a stage-aware pack failure.
type Error struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error formats pack failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil || e.Err.Error() == e.Message {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MeshCodec compresses and expands meshes for the draco stage.
type MeshCodec interface {
	scene.MeshEncoder
	scene.MeshDecoder
}

// Options tunes pipeline behavior that is not part of a job descriptor.
type Options struct {
	// ToktxPath is the KTX2 encoder binary.
	ToktxPath string
	// TempDir holds per-stage scratch directories; empty means os.TempDir.
	TempDir             string
	KeepTempFiles       bool
	AppendStageSuffixes bool
	// BasisConcurrency caps concurrent texture encodes; 0 is unbounded.
	BasisConcurrency int
	// Verbosity is the threshold of the document logger.
	Verbosity events.Level
}

// Packer orchestrates stages over a document read through a scene.IO.
type Packer struct {
	io        scene.IO
	codec     MeshCodec
	emitter   events.Emitter
	runner    proc.Runner
	opts      Options
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	writeFile func(name string, data []byte, perm os.FileMode) error
	readFile  func(name string) ([]byte, error)
}

// NewPacker constructs the production packer with OS dependencies.
func NewPacker(io scene.IO, codec MeshCodec, emitter events.Emitter, opts Options) *Packer {
	return NewPackerForTests(io, codec, emitter, proc.NewExecRunner(), opts, os.MkdirTemp, os.RemoveAll)
}

// NewPackerForTests constructs a packer with injectable dependencies.
func NewPackerForTests(
	io scene.IO,
	codec MeshCodec,
	emitter events.Emitter,
	runner proc.Runner,
	opts Options,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *Packer {
	if opts.ToktxPath == "" {
		opts.ToktxPath = "toktx"
	}
	return &Packer{
		io:        io,
		codec:     codec,
		emitter:   emitter,
		runner:    runner,
		opts:      opts,
		mkdirTemp: mkdirTemp,
		removeAll: removeAll,
		writeFile: os.WriteFile,
		readFile:  os.ReadFile,
	}
}

// run is the mutable state threaded through the stages of one job.
type run struct {
	job    domain.PackJob
	doc    scene.Document
	size   int
	name   string
	stage  string
	logger *events.Logger
}

// Pack reads job.File, applies every enabled stage in pipeline order and
// writes <outputPath>/<name>_packed<ext>. Every failure, including a panic
// inside a stage, is returned as *Error.
func (p *Packer) Pack(ctx context.Context, job domain.PackJob) (out Output, err error) {
	r := &run{job: job, stage: "validate"}
	defer func() {
		if rec := recover(); rec != nil {
			out = Output{}
			err = &Error{Stage: r.stage, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	if strings.TrimSpace(job.File) == "" {
		return Output{}, &Error{Stage: "validate", Message: "no file path specified"}
	}
	if strings.TrimSpace(job.OutputPath) == "" {
		return Output{}, &Error{Stage: "validate", Message: "no output path specified"}
	}

	r.stage = "read"
	if p.codec != nil {
		// Compressed inputs need the decoder before the first read.
		if err := p.io.RegisterDependencies(map[string]any{scene.DependencyDracoDecoder: p.codec}); err != nil {
			return Output{}, &Error{Stage: r.stage, Message: "register mesh decoder", Err: err}
		}
	}
	doc, err := p.io.Read(job.File)
	if err != nil {
		return Output{}, &Error{Stage: r.stage, Message: fmt.Sprintf("cannot read %s", job.File), Err: err}
	}
	bin, err := p.io.WriteBinary(doc)
	if err != nil {
		return Output{}, &Error{Stage: r.stage, Message: "cannot serialize document", Err: err}
	}
	base := filepath.Base(job.File)
	ext := filepath.Ext(base)
	r.doc = doc
	r.size = len(bin)
	r.name = strings.TrimSuffix(base, ext)
	r.logger = events.NewLogger(p.emitter, p.opts.Verbosity)
	doc.SetLogger(r.logger)

	for _, s := range pipeline {
		if !s.enabled(job.PackOptions) {
			continue
		}
		if err := p.runStage(ctx, r, s); err != nil {
			return Output{}, err
		}
	}

	r.stage = "write"
	r.name += "_packed" + ext
	outPath := filepath.Join(job.OutputPath, r.name)
	if err := p.io.Write(outPath, doc); err != nil {
		return Output{}, &Error{Stage: r.stage, Message: fmt.Sprintf("cannot write %s", outPath), Err: err}
	}
	if bin, err = p.io.WriteBinary(doc); err != nil {
		return Output{}, &Error{Stage: r.stage, Message: "cannot serialize document", Err: err}
	}
	return Output{Name: r.name, Path: outPath, Binary: bin}, nil
}

// runStage applies one stage, reports its size delta and extends the output
// name.
func (p *Packer) runStage(ctx context.Context, r *run, s stage) error {
	r.stage = s.action
	startSize := r.size
	if err := s.apply(ctx, p, r); err != nil {
		return &Error{Stage: s.action, Message: fmt.Sprintf("%s stage failed", s.action), Err: err}
	}
	bin, err := p.io.WriteBinary(r.doc)
	if err != nil {
		return &Error{Stage: s.action, Message: "cannot serialize document", Err: err}
	}
	r.size = len(bin)
	events.ReportSize(p.emitter, s.action, startSize, r.size)
	if p.opts.AppendStageSuffixes {
		r.name += "_" + s.action
	}
	return nil
}
