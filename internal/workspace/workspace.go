// Package workspace allocates and reclaims isolated per-job directory trees
// under a single jobs root. Each job owns a disjoint subtree, so no locking
// beyond unique id generation is needed.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"partfield-server/internal/domain"
)

// Error is a fatal workspace allocation failure. A job hitting one aborts
// before any subprocess runs.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager creates job workspaces and sweeps expired ones.
type Manager struct {
	root  string
	newID func() string
	now   func() time.Time
}

// NewManager builds a manager rooted at jobsDir.
func NewManager(jobsDir string) *Manager {
	return &Manager{
		root:  jobsDir,
		newID: func() string { return uuid.NewString()[:8] },
		now:   time.Now,
	}
}

// Root returns the jobs root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh job workspace and copies the validated input file
// into its input subtree, preserving name, mode, and modification time.
func (m *Manager) Create(inputFile string, params domain.Params) (domain.Job, error) {
	id := m.newID()
	jobDir := filepath.Join(m.root, id)
	inputDir := filepath.Join(jobDir, "input")
	outputDir := filepath.Join(jobDir, "output")

	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return domain.Job{}, &Error{Op: "create input dir", Err: err}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.Job{}, &Error{Op: "create output dir", Err: err}
	}

	dest := filepath.Join(inputDir, filepath.Base(inputFile))
	if err := copyPreserving(inputFile, dest); err != nil {
		return domain.Job{}, &Error{Op: "copy input", Err: err}
	}

	return domain.Job{
		ID:            id,
		Status:        domain.JobStatusPreparing,
		WorkspaceRoot: jobDir,
		InputDir:      inputDir,
		OutputDir:     outputDir,
		InputFile:     dest,
		CreatedAt:     m.now().Unix(),
		Params:        params,
	}, nil
}

// Sweep removes immediate subdirectories of the jobs root whose mtime is
// older than expiry. Best effort: per-directory failures are swallowed and
// only the count of successfully removed directories is returned.
func (m *Manager) Sweep(expiry time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}

	cutoff := m.now().Add(-expiry)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			continue
		}
		removed++
	}
	return removed
}

// copyPreserving copies src to dst keeping file mode and modification time.
func copyPreserving(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// NewManagerForTests builds a manager with injectable id and clock sources.
func NewManagerForTests(jobsDir string, newID func() string, now func() time.Time) *Manager {
	return &Manager{root: jobsDir, newID: newID, now: now}
}
