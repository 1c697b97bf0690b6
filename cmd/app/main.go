package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"asset-packer/internal/bootstrap"
	"asset-packer/internal/config"
	"asset-packer/internal/logger"
)

func main() {
	fs := pflag.NewFlagSet("asset-packer", pflag.ExitOnError)
	flags := config.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging, os.Stderr).Named("app")
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(cfg, log)
	if err != nil {
		log.Fatal("bootstrap app", zap.Error(err))
	}

	if err := app.Run(); err != nil {
		log.Fatal("run app", zap.Error(err))
	}
}
