// Command packworker runs one pack job and streams JSON Lines events on
// stdout. Process logs go to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"asset-packer/internal/config"
	"asset-packer/internal/events"
	"asset-packer/internal/logger"
	"asset-packer/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	emitter := events.NewJSONLEmitter(stdout, nil)

	fs := pflag.NewFlagSet("packworker", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	jobPath := fs.String("job", "-", "Job descriptor JSON file, or - for stdin")
	flags := config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return worker.New(nil, emitter, nil).Fail(fmt.Errorf("parse flags: %w", err))
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return worker.New(nil, emitter, nil).Fail(err)
	}

	log := logger.New(cfg.Logging, stderr).Named("packworker")
	defer func() { _ = log.Sync() }()
	emitter = events.NewJSONLEmitter(stdout, log)

	w := worker.New(worker.NewPacker(cfg, emitter), emitter, log)
	job, err := worker.ReadJob(*jobPath, stdin)
	if err != nil {
		return w.Fail(err)
	}
	log.Debug("job loaded", zap.String("file", job.File), zap.String("output", job.OutputPath))
	return w.Run(context.Background(), job)
}
