package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partfield-server/internal/domain"
)

func TestCreateBuildsIsolatedTree(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "chair.obj")
	require.NoError(t, os.WriteFile(src, []byte("v 0 0 0"), 0o640))
	past := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, past, past))

	m := NewManager(filepath.Join(root, "jobs"))
	job, err := m.Create(src, domain.DefaultParams())
	require.NoError(t, err)

	assert.Len(t, job.ID, 8)
	assert.Equal(t, filepath.Join(m.Root(), job.ID), job.WorkspaceRoot)
	assert.DirExists(t, job.InputDir)
	assert.DirExists(t, job.OutputDir)
	assert.Equal(t, filepath.Join(job.InputDir, "chair.obj"), job.InputFile)

	data, err := os.ReadFile(job.InputFile)
	require.NoError(t, err)
	assert.Equal(t, "v 0 0 0", string(data))

	info, err := os.Stat(job.InputFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(past), "mtime should be preserved")
}

func TestCreateFailsWhenInputMissing(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "jobs"))
	_, err := m.Create(filepath.Join(t.TempDir(), "ghost.obj"), domain.DefaultParams())
	require.Error(t, err)

	var wsErr *Error
	require.ErrorAs(t, err, &wsErr)
	assert.Equal(t, "copy input", wsErr.Op)
}

func TestCreateConcurrentJobsAreDisjoint(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "mesh.ply")
	require.NoError(t, os.WriteFile(src, []byte("ply"), 0o644))
	m := NewManager(filepath.Join(root, "jobs"))

	const n = 1000
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			job, err := m.Create(src, domain.DefaultParams())
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[job.WorkspaceRoot] {
				t.Errorf("duplicate workspace: %s", job.WorkspaceRoot)
			}
			seen[job.WorkspaceRoot] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestSweepRemovesOnlyExpiredDirs(t *testing.T) {
	jobsDir := t.TempDir()
	now := time.Now()
	expiry := 24 * time.Hour

	old := filepath.Join(jobsDir, "old-job")
	fresh := filepath.Join(jobsDir, "fresh-job")
	edgeKeep := filepath.Join(jobsDir, "edge-keep")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.MkdirAll(edgeKeep, 0o755))

	stale := now.Add(-expiry - time.Second)
	within := now.Add(-expiry + time.Second)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.Chtimes(edgeKeep, within, within))

	loose := filepath.Join(jobsDir, "stray.txt")
	require.NoError(t, os.WriteFile(loose, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(loose, stale, stale))

	m := NewManagerForTests(jobsDir, func() string { return "fixed" }, func() time.Time { return now })

	assert.Equal(t, 1, m.Sweep(expiry))
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, edgeKeep)
	assert.FileExists(t, loose, "sweep only touches directories")
}

func TestSweepIsIdempotent(t *testing.T) {
	jobsDir := t.TempDir()
	now := time.Now()

	for i := 0; i < 3; i++ {
		dir := filepath.Join(jobsDir, fmt.Sprintf("job-%d", i))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		stale := now.Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(dir, stale, stale))
	}

	m := NewManagerForTests(jobsDir, func() string { return "fixed" }, func() time.Time { return now })

	assert.Equal(t, 3, m.Sweep(24*time.Hour))
	assert.Equal(t, 0, m.Sweep(24*time.Hour), "second sweep removes nothing")
}

func TestSweepMissingRootReturnsZero(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Equal(t, 0, m.Sweep(24*time.Hour))
}
