package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
	"asset-packer/internal/host"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "tool_toktx":
		fixErr = installToktxForCurrentOS()
	case "tool_draco_encoder", "tool_draco_decoder":
		fixErr = installDracoForCurrentOS()
	case "tool_packworker":
		fixErr = a.installOrFixPackworker()
	case "output_dir":
		settings, settingsChanged, fixErr = installOrFixOutputDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		tools := config.Default().Tools
		if a.Config != nil {
			tools = a.Config.Tools
		}
		a.Diagnostics = a.checker.Run(tools, settings)
	}
	return a.Diagnostics
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".asset-packer", "bin")
}

func installToktxForCurrentOS() error {
	if err := requireToolsOnPath("toktx"); err == nil {
		return nil
	}

	var options []installOption
	switch goruntime.GOOS {
	case "windows":
		options = []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "KhronosGroup.KTX-Software", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
		}
	case "darwin":
		options = []installOption{
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "ktx-software"},
				},
			},
		}
	default:
		options = []installOption{
			{
				manager: "pacman",
				commands: [][]string{
					{"pacman", "-Sy", "--noconfirm", "ktx-software"},
				},
			},
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "ktx-software"},
				},
			},
		}
	}

	if err := runFirstSuccessfulInstall(options); err != nil {
		return fmt.Errorf("install toktx: %w", err)
	}
	if err := requireToolsOnPath("toktx"); err != nil {
		return fmt.Errorf("verify toktx on PATH: %w", err)
	}
	return nil
}

func installDracoForCurrentOS() error {
	if err := requireToolsOnPath("draco_encoder", "draco_decoder"); err == nil {
		return nil
	}

	var options []installOption
	switch goruntime.GOOS {
	case "windows":
		options = []installOption{
			{
				manager: "vcpkg",
				commands: [][]string{
					{"vcpkg", "install", "draco"},
				},
			},
		}
	case "darwin":
		options = []installOption{
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "draco"},
				},
			},
		}
	default:
		options = []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "draco"},
				},
			},
			{
				manager: "dnf",
				commands: [][]string{
					{"dnf", "install", "-y", "draco"},
				},
			},
			{
				manager: "pacman",
				commands: [][]string{
					{"pacman", "-Sy", "--noconfirm", "draco"},
				},
			},
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "draco"},
				},
			},
		}
	}

	if err := runFirstSuccessfulInstall(options); err != nil {
		return fmt.Errorf("install draco tools: %w", err)
	}
	if err := requireToolsOnPath("draco_encoder", "draco_decoder"); err != nil {
		return fmt.Errorf("verify draco tools on PATH: %w", err)
	}
	return nil
}

// installOrFixPackworker links a worker binary found next to the app into
// the local bin directory.
func (a *App) installOrFixPackworker() error {
	name := "packworker"
	if a.Config != nil && strings.TrimSpace(a.Config.Tools.Packworker) != "" {
		name = a.Config.Tools.Packworker
	}

	resolved := host.ResolveWorker(name)
	if _, err := os.Stat(resolved); err != nil {
		return fmt.Errorf("packworker not found: %s", name)
	}
	if err := createToolAlias("packworker", resolved); err != nil {
		return err
	}

	if a.Config != nil {
		a.mu.Lock()
		a.Config.Tools.Packworker = resolved
		a.mu.Unlock()
	}
	return nil
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		if err := runInstallCommands(option.commands); err == nil {
			return nil
		} else {
			errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
		}
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := runCommand(candidate[0], candidate[1:]...); err == nil {
			return nil
		} else {
			attemptErrors = append(attemptErrors, err.Error())
		}
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// createToolAlias writes a launcher script named name into the local bin
// directory that forwards to sourcePath.
func createToolAlias(name, sourcePath string) error {
	if strings.TrimSpace(sourcePath) == "" {
		return fmt.Errorf("source executable path is empty")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}

	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return err
	}
	return writeToolAlias(localBinDir(homeDir), name, sourcePath)
}

func writeToolAlias(binDir, name, sourcePath string) error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create local bin directory: %w", err)
	}

	if goruntime.GOOS == "windows" {
		aliasPath := filepath.Join(binDir, name+".cmd")
		content := fmt.Sprintf("@echo off\r\n\"%s\" %%*\r\n", sourcePath)
		if err := os.WriteFile(aliasPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s alias file: %w", name, err)
		}
		return nil
	}

	aliasPath := filepath.Join(binDir, name)
	escaped := strings.ReplaceAll(sourcePath, "\"", "\\\"")
	content := fmt.Sprintf("#!/usr/bin/env sh\nexec \"%s\" \"$@\"\n", escaped)
	if err := os.WriteFile(aliasPath, []byte(content), 0o755); err != nil {
		return fmt.Errorf("write %s alias script: %w", name, err)
	}
	return nil
}

func installOrFixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	return settings, changed, nil
}
