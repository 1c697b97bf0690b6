package bootstrap

import (
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"

	"asset-packer/internal/config"
	"asset-packer/internal/diagnostics"
	"asset-packer/internal/domain"
)

// TestInstallOrFixOutputDirCreatesDirectory ensures output dir fix creates missing directories.
func TestInstallOrFixOutputDirCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "nested", "packed")

	fixed, changed, err := installOrFixOutputDir(domain.Settings{OutputDir: outputDir})
	if err != nil {
		t.Fatalf("fix output dir: %v", err)
	}
	if changed {
		t.Fatal("expected settings to remain unchanged")
	}
	if fixed.OutputDir != outputDir {
		t.Fatalf("OutputDir = %s, want %s", fixed.OutputDir, outputDir)
	}
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("stat output dir: %v", err)
	}
}

// TestWriteToolAliasForwardsToSource validates the generated launcher script.
func TestWriteToolAliasForwardsToSource(t *testing.T) {
	binDir := filepath.Join(t.TempDir(), "bin")

	if err := writeToolAlias(binDir, "packworker", "/opt/asset packer/packworker"); err != nil {
		t.Fatalf("write alias: %v", err)
	}

	name := "packworker"
	if goruntime.GOOS == "windows" {
		name += ".cmd"
	}
	data, err := os.ReadFile(filepath.Join(binDir, name))
	if err != nil {
		t.Fatalf("read alias: %v", err)
	}
	if !strings.Contains(string(data), `"/opt/asset packer/packworker"`) {
		t.Fatalf("alias = %q, want quoted source path", data)
	}
}

// TestEnsureLocalBinOnPATHIsIdempotent checks PATH is only extended once.
func TestEnsureLocalBinOnPATHIsIdempotent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PATH", "/usr/bin")

	if err := ensureLocalBinOnPATH(home); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := ensureLocalBinOnPATH(home); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	count := 0
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if entry == localBinDir(home) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("PATH = %q, want local bin exactly once", os.Getenv("PATH"))
	}
}

// TestInstallOrFixDiagnosticRejectsUnknownItem validates item ID routing.
func TestInstallOrFixDiagnosticRejectsUnknownItem(t *testing.T) {
	app := newTestApp(t, &fakeLauncher{})

	if _, err := app.InstallOrFixDiagnostic("model_path"); err == nil {
		t.Fatal("expected error for unknown item")
	}
	if _, err := app.InstallOrFixDiagnostic(" "); err == nil {
		t.Fatal("expected error for empty item")
	}
}

// TestInstallOrFixDiagnosticOutputDirRefreshesReport checks the fix flow end to end.
func TestInstallOrFixDiagnosticOutputDirRefreshesReport(t *testing.T) {
	app := newTestApp(t, &fakeLauncher{})
	outputDir := filepath.Join(t.TempDir(), "missing", "out")
	app.Store.(*fakeStore).settings.OutputDir = outputDir
	app.checker = diagnostics.NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	app.Config = config.Default()

	report, err := app.InstallOrFixDiagnostic("output_dir")
	if err != nil {
		t.Fatalf("fix output dir: %v", err)
	}
	if report.HasFailures {
		t.Fatalf("report has failures: %+v", report.Items)
	}
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("stat output dir: %v", err)
	}
}
