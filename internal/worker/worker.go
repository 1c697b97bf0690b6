// Package worker runs exactly one pack job and reports it as a terminal event.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
	"asset-packer/internal/draco"
	"asset-packer/internal/events"
	"asset-packer/internal/pack"
	"asset-packer/internal/scene"
)

// Exit codes returned by Run.
const (
	ExitOK     = 0
	ExitFailed = 1
)

// Packer executes one job.
type Packer interface {
	Pack(ctx context.Context, job domain.PackJob) (pack.Output, error)
}

// Worker wires a packer to an event emitter.
type Worker struct {
	packer  Packer
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a worker with the wall clock.
func New(packer Packer, emitter events.Emitter, logger *zap.Logger) *Worker {
	return NewForTests(packer, emitter, logger, time.Now)
}

// NewForTests creates a worker with an injectable clock.
func NewForTests(packer Packer, emitter events.Emitter, logger *zap.Logger, now func() time.Time) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{packer: packer, emitter: emitter, logger: logger, now: now}
}

// Run packs job and emits exactly one packreport or errorreport. It returns
// the process exit code.
func (w *Worker) Run(ctx context.Context, job domain.PackJob) int {
	start := w.now()
	w.logJob(job)

	out, err := w.packer.Pack(ctx, job)
	elapsed := millis(w.now().Sub(start))
	if err != nil {
		w.logger.Error("pack failed", zap.String("file", job.File), zap.Error(err))
		w.emitter.Emit(ErrorReport(err, elapsed))
		return ExitFailed
	}

	w.logger.Info("pack finished",
		zap.String("output", out.Path),
		zap.Int("bytes", len(out.Binary)),
		zap.Float64("ms", elapsed),
	)
	w.emitter.Emit(events.Event{
		Type: events.TypePackReport,
		File: &events.PackedFile{Name: out.Name, Path: out.Path, Binary: out.Binary},
		Time: elapsed,
	})
	return ExitOK
}

// Fail emits an errorreport for a job that could not be started.
func (w *Worker) Fail(err error) int {
	w.logger.Error("job rejected", zap.Error(err))
	w.emitter.Emit(ErrorReport(err, 0))
	return ExitFailed
}

// logJob echoes the descriptor. Failure to encode it never fails the job.
func (w *Worker) logJob(job domain.PackJob) {
	data, err := json.Marshal(job)
	if err != nil {
		w.logger.Warn("encode job descriptor", zap.Error(err))
		return
	}
	w.emitter.Emit(events.Event{Type: events.TypeLogging, Verbosity: events.LevelInfo, Text: string(data)})
}

// ErrorReport builds the terminal failure event for err.
func ErrorReport(err error, elapsed float64) events.Event {
	info := &events.ErrorInfo{Message: err.Error()}
	var packErr *pack.Error
	if errors.As(err, &packErr) {
		info.Stage = packErr.Stage
		info.Message = packErr.Message
	}
	return events.Event{
		Type:         events.TypeErrorReport,
		Error:        info,
		ErrorMessage: err.Error(),
		Time:         elapsed,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// DecodeJob parses a JSON job descriptor. An absent uastcLevel keeps the
// encoder default; an explicit 0 selects the fastest level.
func DecodeJob(r io.Reader) (domain.PackJob, error) {
	job := domain.PackJob{PackOptions: domain.PackOptions{
		UASTCLevel: config.DefaultPackOptions().UASTCLevel,
	}}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&job); err != nil {
		return domain.PackJob{}, fmt.Errorf("decode job descriptor: %w", err)
	}
	return job, nil
}

// ReadJob loads the descriptor from path, or from stdin when path is "-".
func ReadJob(path string, stdin io.Reader) (domain.PackJob, error) {
	if path == "" {
		return domain.PackJob{}, errors.New("no job descriptor given")
	}
	if path == "-" {
		return DecodeJob(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.PackJob{}, fmt.Errorf("open job descriptor: %w", err)
	}
	defer f.Close()
	return DecodeJob(f)
}

// PackerOptions maps process configuration onto pipeline options.
func PackerOptions(cfg *config.Config) pack.Options {
	return pack.Options{
		ToktxPath:           cfg.Tools.Toktx,
		TempDir:             cfg.Pack.TempDir,
		KeepTempFiles:       cfg.Pack.KeepTempFiles,
		AppendStageSuffixes: cfg.Pack.AppendStageSuffixes,
		BasisConcurrency:    cfg.Pack.BasisConcurrency,
		Verbosity:           events.ParseLevel(cfg.Pack.Verbosity),
	}
}

// NewPacker builds the production packer from configuration.
func NewPacker(cfg *config.Config, emitter events.Emitter) *pack.Packer {
	codec := draco.NewCodec(cfg.Tools.DracoEncoder, cfg.Tools.DracoDecoder,
		draco.WithTempDir(cfg.Pack.TempDir),
		draco.WithKeepTempFiles(cfg.Pack.KeepTempFiles),
	)
	return pack.NewPacker(scene.NewIO(), codec, emitter, PackerOptions(cfg))
}
