package config

import "github.com/spf13/pflag"

// Flags are command-line overrides. Values apply only when the flag was set.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath          string
	Debug               bool
	LogFile             string
	Toktx               string
	DracoEncoder        string
	DracoDecoder        string
	Packworker          string
	AppendStageSuffixes bool
	KeepTempFiles       bool
	BasisConcurrency    int
}

// BindFlags registers the shared flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write logs to this file")
	fs.StringVar(&f.Toktx, "toktx", "", "Path to the toktx binary")
	fs.StringVar(&f.DracoEncoder, "draco-encoder", "", "Path to the draco_encoder binary")
	fs.StringVar(&f.DracoDecoder, "draco-decoder", "", "Path to the draco_decoder binary")
	fs.StringVar(&f.Packworker, "packworker", "", "Path to the packworker binary")
	fs.BoolVar(&f.AppendStageSuffixes, "append-stage-suffixes", false, "Append each executed stage to the output name")
	fs.BoolVar(&f.KeepTempFiles, "keep-temp-files", false, "Keep encoder scratch files")
	fs.IntVar(&f.BasisConcurrency, "basis-concurrency", 0, "Concurrent texture encodes, 0 for unbounded")
	return f
}

// apply copies every flag that was set onto cfg.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.Toktx != "" {
		cfg.Tools.Toktx = f.Toktx
	}
	if f.DracoEncoder != "" {
		cfg.Tools.DracoEncoder = f.DracoEncoder
	}
	if f.DracoDecoder != "" {
		cfg.Tools.DracoDecoder = f.DracoDecoder
	}
	if f.Packworker != "" {
		cfg.Tools.Packworker = f.Packworker
	}
	if f.changed("append-stage-suffixes") {
		cfg.Pack.AppendStageSuffixes = f.AppendStageSuffixes
	}
	if f.changed("keep-temp-files") {
		cfg.Pack.KeepTempFiles = f.KeepTempFiles
	}
	if f.changed("basis-concurrency") {
		cfg.Pack.BasisConcurrency = f.BasisConcurrency
	}
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}
