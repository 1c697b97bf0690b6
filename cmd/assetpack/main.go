// Command assetpack packs one glTF scene from the command line and prints the
// size change of every stage.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/host"
	"asset-packer/internal/logger"
	"asset-packer/internal/pack"
	"asset-packer/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cliFlags are the job-level flags layered over the default pack options.
type cliFlags struct {
	fs *pflag.FlagSet

	jobPath   string
	output    string
	inProcess bool
	listOnly  bool

	dedupe   bool
	instance bool
	reorder  bool
	weld     bool
	resize   string
	filter   string
	basis    string
	draco    bool
	sequence bool
}

func bindCLIFlags(fs *pflag.FlagSet) *cliFlags {
	f := &cliFlags{fs: fs}
	fs.StringVar(&f.jobPath, "job", "", "Job descriptor JSON file, or - for stdin")
	fs.StringVarP(&f.output, "output", "o", "", "Output directory (default: next to the input)")
	fs.BoolVar(&f.inProcess, "in-process", false, "Pack inside this process instead of spawning packworker")
	fs.BoolVar(&f.listOnly, "list-stages", false, "Print the pipeline stages in execution order and exit")
	fs.BoolVar(&f.dedupe, "dedupe", true, "Remove duplicate accessors, textures and meshes")
	fs.BoolVar(&f.instance, "instance", false, "Create GPU instances for repeated meshes")
	fs.BoolVar(&f.reorder, "reorder", false, "Reorder vertices for fetch locality")
	fs.BoolVar(&f.weld, "weld", true, "Merge identical vertices")
	fs.StringVar(&f.resize, "resize", "", "Cap textures at WIDTHxHEIGHT, e.g. 2048x2048")
	fs.StringVar(&f.filter, "filter", "", "Resampling filter for --resize")
	fs.StringVar(&f.basis, "basis", "", "Texture compression: UASTC, ETC1S or PNG")
	fs.BoolVar(&f.draco, "draco", true, "Compress geometry with Draco")
	fs.BoolVar(&f.sequence, "sequential", false, "Use sequential Draco vertex compression")
	return f
}

// job builds the descriptor from the positional input and the option flags.
func (f *cliFlags) job(args []string) (domain.PackJob, error) {
	if f.jobPath != "" {
		return worker.ReadJob(f.jobPath, os.Stdin)
	}
	if len(args) != 1 {
		return domain.PackJob{}, fmt.Errorf("expected exactly one input file, got %d", len(args))
	}

	input, err := filepath.Abs(args[0])
	if err != nil {
		return domain.PackJob{}, fmt.Errorf("resolve input: %w", err)
	}
	output := f.output
	if output == "" {
		output = filepath.Dir(input)
	}

	opts := config.DefaultPackOptions()
	opts.DoDedupe = f.dedupe
	opts.DoInstancing = f.instance
	opts.DoReorder = f.reorder
	opts.DoWeld = f.weld
	opts.DoDraco = f.draco
	if f.sequence {
		opts.VertexCompressionMethod = domain.VertexSequential
	}
	if f.resize != "" {
		var w, h int
		if _, err := fmt.Sscanf(strings.ToLower(f.resize), "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
			return domain.PackJob{}, fmt.Errorf("invalid --resize %q, want WIDTHxHEIGHT", f.resize)
		}
		opts.DoResize = true
		opts.TextureResolutionWidth = w
		opts.TextureResolutionHeight = h
	}
	if f.filter != "" {
		opts.ResamplingFilter = strings.ToLower(f.filter)
	}
	if f.basis != "" {
		switch method := strings.ToUpper(f.basis); method {
		case domain.BasisUASTC, domain.BasisETC1S, domain.BasisPNG:
			opts.DoBasis = true
			opts.BasisMethod = method
		default:
			return domain.PackJob{}, fmt.Errorf("invalid --basis %q", f.basis)
		}
	}

	return domain.PackJob{File: input, OutputPath: output, PackOptions: opts}, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("assetpack", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cli := bindCLIFlags(fs)
	flags := config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return worker.ExitFailed
	}
	if cli.listOnly {
		for i, action := range pack.Actions() {
			fmt.Fprintf(stdout, "%d. %s\n", i+1, action)
		}
		return worker.ExitOK
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return worker.ExitFailed
	}
	log := logger.New(cfg.Logging, stderr).Named("assetpack")
	defer func() { _ = log.Sync() }()

	job, err := cli.job(fs.Args())
	if err != nil {
		log.Error("invalid job", zap.Error(err))
		return worker.ExitFailed
	}

	report := &reporter{out: stdout, log: log}
	var terminal events.Event
	if cli.inProcess {
		emitter := events.EmitterFunc(func(e events.Event) {
			if e.Type.IsTerminal() {
				terminal = e
			}
			report.handle(e)
		})
		worker.New(worker.NewPacker(cfg, emitter), emitter, log).Run(ctx, job)
	} else {
		launcher := host.NewLauncher(host.ResolveWorker(cfg.Tools.Packworker), log.Named("launcher"), forwardedArgs(fs)...)
		terminal, err = launcher.Run(ctx, job, report.handle)
		if err != nil {
			log.Debug("worker exited abnormally", zap.Error(err))
		}
	}

	if terminal.Type != events.TypePackReport {
		return worker.ExitFailed
	}
	return worker.ExitOK
}

// forwardedArgs passes explicitly set process flags on to the worker.
func forwardedArgs(fs *pflag.FlagSet) []string {
	var args []string
	for _, name := range []string{
		"config", "debug", "log-file", "toktx", "draco-encoder", "draco-decoder",
		"append-stage-suffixes", "keep-temp-files", "basis-concurrency",
	} {
		if fl := fs.Lookup(name); fl != nil && fl.Changed {
			args = append(args, fmt.Sprintf("--%s=%s", name, fl.Value.String()))
		}
	}
	return args
}

// reporter prints stage sizes and the final outcome.
type reporter struct {
	out io.Writer
	log *zap.Logger
}

func (r *reporter) handle(e events.Event) {
	switch e.Type {
	case events.TypeLogging:
		r.log.Debug(e.Text, zap.Stringer("verbosity", e.Verbosity))
	case events.TypeSizeReport:
		r.log.Info("stage",
			zap.String("action", e.Action),
			zap.Int("start", e.StartSize),
			zap.Int("end", e.EndSize),
		)
		fmt.Fprintf(r.out, "%-10s %10d -> %10d bytes (%s)\n", e.Action, e.StartSize, e.EndSize, ratio(e.StartSize, e.EndSize))
	case events.TypePackReport:
		if e.File != nil {
			fmt.Fprintf(r.out, "packed %s in %.0f ms\n", e.File.Path, e.Time)
		}
	case events.TypeErrorReport:
		stage := ""
		if e.Error != nil {
			stage = e.Error.Stage
		}
		r.log.Error("pack failed", zap.String("stage", stage), zap.String("error", e.ErrorMessage))
	}
}

func ratio(start, end int) string {
	if start <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", (float64(end)-float64(start))/float64(start)*100)
}
