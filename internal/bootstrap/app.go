package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"asset-packer/internal/config"
	"asset-packer/internal/diagnostics"
	"asset-packer/internal/domain"
	"asset-packer/internal/events"
	"asset-packer/internal/host"
	"asset-packer/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var sceneDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "glTF scenes",
		Pattern:     "*.glb;*.gltf",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, jobs, the worker launcher, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Config      *config.Config
	Jobs        *jobs.Manager
	Launcher    packLauncher
	Diagnostics domain.DiagnosticReport
	Logger      *zap.Logger
	assets      fs.FS
	checker     *diagnostics.Checker

	mu          sync.Mutex
	activeJobID string
	cancel      context.CancelFunc
	events      *jobs.EventBus
	runtimeCtx  context.Context
}

// packLauncher isolates worker processes behind an interface.
type packLauncher interface {
	Run(ctx context.Context, job domain.PackJob, onEvent func(events.Event)) (events.Event, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	return NewWithAssets(cfg, logger, nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(cfg *config.Config, logger *zap.Logger, assets fs.FS) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewYAMLStore(cfg.SettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	cfg.Tools.Packworker = host.ResolveWorker(cfg.Tools.Packworker)
	args := workerArgs(cfg)

	checker := diagnostics.NewChecker()
	report := checker.Run(cfg.Tools, settings)
	logger.Info("startup diagnostics", zap.Bool("hasFailures", report.HasFailures))

	return &App{
		Settings:    settings,
		Store:       store,
		Config:      cfg,
		Jobs:        jobs.NewManager(),
		Launcher:    host.NewLauncher(cfg.Tools.Packworker, logger.Named("launcher"), args...),
		Diagnostics: report,
		Logger:      logger,
		assets:      assets,
		checker:     checker,
		events:      jobs.NewEventBus(cfg.Host.MaxEvents),
	}, nil
}

// workerArgs forwards tool paths and pipeline tuning to each worker.
func workerArgs(cfg *config.Config) []string {
	args := []string{
		"--toktx", cfg.Tools.Toktx,
		"--draco-encoder", cfg.Tools.DracoEncoder,
		"--draco-decoder", cfg.Tools.DracoDecoder,
		fmt.Sprintf("--append-stage-suffixes=%t", cfg.Pack.AppendStageSuffixes),
		fmt.Sprintf("--keep-temp-files=%t", cfg.Pack.KeepTempFiles),
		fmt.Sprintf("--basis-concurrency=%d", cfg.Pack.BasisConcurrency),
	}
	if cfg.Logging.Level == "debug" {
		args = append(args, "--debug")
	}
	return args
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Asset Packer",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			cancel := a.cancel
			a.runtimeCtx = nil
			a.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// PickInputFile opens a native file dialog for scene selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select glTF scene",
		Filters: sceneDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for packed files.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	return a.refreshDiagnosticsFromSettings(settings), nil
}

// StartPack creates a job for inputPath and runs it in a worker process.
func (a *App) StartPack(inputPath string) (domain.Job, error) {
	input := strings.TrimSpace(inputPath)
	switch strings.ToLower(filepath.Ext(input)) {
	case ".glb", ".gltf":
	default:
		return domain.Job{}, fmt.Errorf("unsupported input file: %q", input)
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeJobID = jobID
	a.cancel = cancel
	a.Settings = settings
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusPacking, "Job started")

	job := domain.PackJob{
		File:        input,
		OutputPath:  settings.OutputDir,
		PackOptions: settings.Options,
	}
	go a.runPackJob(ctx, jobID, job)
	return a.Jobs.Current(), nil
}

// CancelPack kills the running worker, if any.
func (a *App) CancelPack() error {
	a.mu.Lock()
	cancel := a.cancel
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningJob
	}

	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}
	cancel()

	if activeJobID != "" {
		a.publishStatus(activeJobID, domain.JobStatusCancelled, "Cancellation requested")
	}
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// runPackJob relays worker events and maps the terminal report to a status.
func (a *App) runPackJob(ctx context.Context, jobID string, job domain.PackJob) {
	defer a.clearActiveJob(jobID)

	terminal, err := a.Launcher.Run(ctx, job, func(e events.Event) {
		a.publishEvent(jobs.FromWorker(jobID, e))
	})

	if ctx.Err() != nil {
		a.Jobs.Finish(jobID, domain.JobStatusCancelled)
		a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
		return
	}

	if err == nil && terminal.Type == events.TypePackReport {
		if a.Jobs.Finish(jobID, domain.JobStatusDone) {
			a.publishStatus(jobID, domain.JobStatusDone, "Job completed")
		}
		return
	}

	if err != nil && a.Logger != nil {
		a.Logger.Warn("pack job failed", zap.String("job", jobID), zap.Error(err))
	}
	if a.Jobs.Finish(jobID, domain.JobStatusFailed) {
		a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.cancel = nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and canonicalizes option enums.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Preset = strings.TrimSpace(settings.Preset)

	o := &settings.Options
	switch strings.ToUpper(strings.TrimSpace(o.BasisMethod)) {
	case domain.BasisUASTC:
		o.BasisMethod = domain.BasisUASTC
	case domain.BasisPNG:
		o.BasisMethod = domain.BasisPNG
	default:
		o.BasisMethod = domain.BasisETC1S
	}
	if strings.EqualFold(strings.TrimSpace(o.VertexCompressionMethod), domain.VertexSequential) {
		o.VertexCompressionMethod = domain.VertexSequential
	} else {
		o.VertexCompressionMethod = domain.VertexEdgebreaker
	}
	if strings.EqualFold(strings.TrimSpace(o.QuantizationVolume), "scene") {
		o.QuantizationVolume = "scene"
	} else {
		o.QuantizationVolume = "mesh"
	}
	o.ResamplingFilter = strings.ToLower(strings.TrimSpace(o.ResamplingFilter))
	o.PNGFormatFilter = strings.TrimSpace(o.PNGFormatFilter)
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
