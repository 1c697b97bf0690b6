// Package config loads process configuration and persists desktop settings.
package config

// Config holds tool locations and process-level behavior shared by the
// worker, the CLI and the desktop host.
type Config struct {
	Tools   ToolsConfig   `yaml:"tools"`
	Pack    PackConfig    `yaml:"pack"`
	Logging LoggingConfig `yaml:"logging"`
	Host    HostConfig    `yaml:"host"`
}

// ToolsConfig holds external encoder and worker binaries.
type ToolsConfig struct {
	Toktx        string `yaml:"toktx"`
	DracoEncoder string `yaml:"draco_encoder"`
	DracoDecoder string `yaml:"draco_decoder"`
	Packworker   string `yaml:"packworker"`
}

// PackConfig tunes the pipeline outside of a job descriptor.
type PackConfig struct {
	AppendStageSuffixes bool   `yaml:"append_stage_suffixes"`
	KeepTempFiles       bool   `yaml:"keep_temp_files"`
	TempDir             string `yaml:"temp_dir"`
	BasisConcurrency    int    `yaml:"basis_concurrency"`
	// Verbosity is the threshold for logging events sent to the host.
	Verbosity string `yaml:"verbosity"`
}

// LoggingConfig holds process log settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HostConfig holds desktop host settings.
type HostConfig struct {
	MaxEvents    int    `yaml:"max_events"`
	SettingsPath string `yaml:"settings_path"`
}

// Default returns a Config with tool names resolved through PATH.
func Default() *Config {
	return &Config{
		Tools: ToolsConfig{
			Toktx:        "toktx",
			DracoEncoder: "draco_encoder",
			DracoDecoder: "draco_decoder",
			Packworker:   "packworker",
		},
		Pack: PackConfig{
			Verbosity: "debug",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Host: HostConfig{
			MaxEvents: 1000,
		},
	}
}
