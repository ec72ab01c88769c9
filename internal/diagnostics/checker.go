package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"partfield-server/internal/domain"
)

// Checker validates the Python environment and required filesystem paths
// before jobs are accepted.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings, jobsDir string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkPython(settings.PythonBin),
		c.checkPartFieldDir(settings.PartFieldDir),
		c.checkRelativeFile("checkpoint", "Model checkpoint", settings.PartFieldDir, settings.Checkpoint,
			"Download the PartField checkpoint into the configured path or trigger the checkpoint download endpoint."),
		c.checkRelativeFile("config_file", "Pipeline config", settings.PartFieldDir, settings.ConfigFile,
			"Point the config file setting at a valid PartField demo configuration."),
		c.checkJobsDir(jobsDir),
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

// checkPython verifies the configured interpreter is runnable.
func (c *Checker) checkPython(pythonBin string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "python_bin",
		Name: "Python interpreter",
	}

	bin := strings.TrimSpace(pythonBin)
	if bin == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Python binary is not configured."
		item.Hint = "Set python_bin in settings to the interpreter of the PartField environment."
		return item
	}

	if filepath.IsAbs(bin) {
		if _, err := c.stat(bin); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Python binary not found: %s", bin)
			item.Hint = "Check the python_bin setting."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", bin)
		return item
	}

	path, err := c.lookPath(bin)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Interpreter not found in PATH: %s", bin)
		item.Hint = "Install Python or set python_bin to an absolute interpreter path."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkPartFieldDir validates the PartField install and its entry scripts.
func (c *Checker) checkPartFieldDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "partfield_dir",
		Name: "PartField installation",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "PartField directory is empty."
		item.Hint = "Set partfield_dir to the PartField checkout."
		return item
	}

	info, err := c.stat(dir)
	if err != nil || !info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("PartField directory does not exist: %s", dir)
		item.Hint = "Clone the PartField repository to this location."
		return item
	}

	for _, script := range []string{"partfield_inference.py", "run_part_clustering.py"} {
		if _, err := c.stat(filepath.Join(dir, script)); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Missing pipeline script: %s", script)
			item.Hint = "The directory does not look like a PartField checkout."
			return item
		}
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Valid PartField checkout: %s", dir)
	return item
}

// checkRelativeFile validates a file configured relative to the PartField dir.
func (c *Checker) checkRelativeFile(id, name, baseDir, rel, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(rel) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s path is empty.", name)
		item.Hint = hint
		return item
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, rel)
	}
	if _, err := c.stat(path); err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("%s does not exist: %s", name, path)
		} else {
			item.Message = fmt.Sprintf("Cannot access %s: %s", strings.ToLower(name), path)
		}
		item.Hint = hint
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%s found: %s", name, path)
	return item
}

// checkJobsDir validates jobs root existence and write access.
func (c *Checker) checkJobsDir(jobsDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "jobs_dir",
		Name: "Jobs directory",
	}

	if strings.TrimSpace(jobsDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Jobs directory is empty."
		item.Hint = "Start the server with a valid --jobs-dir."
		return item
	}

	if err := c.mkdirAll(jobsDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create jobs directory: %s", jobsDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(jobsDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Jobs directory is not writable: %s", jobsDir)
		item.Hint = "Choose a writable directory for job workspaces."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", jobsDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
