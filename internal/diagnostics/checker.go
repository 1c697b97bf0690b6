package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
)

// Checker validates external encoders, the worker binary and the output path.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// tool describes one external binary check.
type tool struct {
	id   string
	name string
	path string
	hint string
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(tools config.ToolsConfig, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(tool{
			id:   "tool_toktx",
			name: "toktx",
			path: tools.Toktx,
			hint: "Install KTX-Software and ensure toktx is on PATH, or set tools.toktx. Needed for UASTC and ETC1S textures.",
		}),
		c.checkTool(tool{
			id:   "tool_draco_encoder",
			name: "draco_encoder",
			path: tools.DracoEncoder,
			hint: "Build the Draco tools and set tools.draco_encoder. Needed for geometry compression.",
		}),
		c.checkTool(tool{
			id:   "tool_draco_decoder",
			name: "draco_decoder",
			path: tools.DracoDecoder,
			hint: "Build the Draco tools and set tools.draco_decoder. Needed to read compressed inputs.",
		}),
		c.checkTool(tool{
			id:   "tool_packworker",
			name: "packworker",
			path: tools.Packworker,
			hint: "Install packworker next to the application or set tools.packworker.",
		}),
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a configured executable resolves.
func (c *Checker) checkTool(t tool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: t.id, Name: t.name}

	if strings.TrimSpace(t.path) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No path configured for %s", t.name)
		item.Hint = t.hint
		return item
	}

	path, err := c.lookPath(t.path)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", t.path)
		item.Hint = t.hint
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where packed files can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for packed files."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
