package harvest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partfield-server/internal/domain"
)

func jobWithOutputs(t *testing.T, names ...string) domain.Job {
	t.Helper()
	root := t.TempDir()
	job := domain.Job{
		ID:        "abcd1234",
		OutputDir: filepath.Join(root, "output"),
		Params:    domain.DefaultParams(),
	}
	plyDir := filepath.Join(job.OutputDir, "ply")
	require.NoError(t, os.MkdirAll(plyDir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(plyDir, name), []byte("mesh"), 0o644))
	}
	return job
}

func TestPartCount(t *testing.T) {
	cases := map[string]int{
		"x_0_5.ply":         5,
		"x_0_2.ply":         2,
		"x_0_10.obj":        10,
		"chair_3_27.ply":    27,
		"noseparator.ply":   0,
		"trailing_.ply":     0,
		"x_0_banana.ply":    0,
		"weird_-4.ply":      0,
		"multi_under_7.obj": 7,
	}
	for name, want := range cases {
		assert.Equal(t, want, PartCount(name), name)
	}
}

func TestCollectSortsAscendingByPartCount(t *testing.T) {
	job := jobWithOutputs(t, "x_0_5.ply", "x_0_2.ply", "x_0_10.ply")

	artifacts := Collect(job)
	require.Len(t, artifacts, 3)

	counts := []int{artifacts[0].PartCount, artifacts[1].PartCount, artifacts[2].PartCount}
	assert.Equal(t, []int{2, 5, 10}, counts)
	assert.Equal(t, "2 parts", artifacts[0].Label)
}

func TestCollectPrefersUVVariantPerCount(t *testing.T) {
	job := jobWithOutputs(t, "x_0_4.ply", "x_0_4.obj", "x_0_6.ply")

	artifacts := Collect(job)
	require.Len(t, artifacts, 2)

	assert.Equal(t, 4, artifacts[0].PartCount)
	assert.Equal(t, domain.FormatMeshUV, artifacts[0].Format)
	assert.Equal(t, "4 parts (UV)", artifacts[0].Label)
	assert.Equal(t, domain.FormatMesh, artifacts[1].Format)
	assert.Equal(t, "6 parts", artifacts[1].Label)
}

func TestCollectKeepsDistinctUnparsableNames(t *testing.T) {
	job := jobWithOutputs(t, "preview.ply", "debugdump.obj", "x_0_3.ply")

	artifacts := Collect(job)
	require.Len(t, artifacts, 3)

	assert.Equal(t, 0, artifacts[0].PartCount)
	assert.Equal(t, 0, artifacts[1].PartCount)
	assert.Equal(t, 3, artifacts[2].PartCount)
}

func TestCollectIgnoresForeignExtensions(t *testing.T) {
	job := jobWithOutputs(t, "x_0_2.ply", "x_0_2.mtl", "notes.txt")

	artifacts := Collect(job)
	require.Len(t, artifacts, 1)
	assert.Equal(t, 2, artifacts[0].PartCount)
}

func TestCollectMissingOutputDirIsEmpty(t *testing.T) {
	job := domain.Job{OutputDir: filepath.Join(t.TempDir(), "nothing")}
	assert.Empty(t, Collect(job))
}

func TestBuildResultSuccess(t *testing.T) {
	job := jobWithOutputs(t, "x_0_2.ply", "x_0_5.ply")
	job.Params.MaxClusters = 20

	rs := BuildResult(job, "", "log text")
	assert.Equal(t, domain.SeveritySuccess, rs.Severity)
	assert.Equal(t, "Success! Generated 2 segmentation(s) with 2 to 20 parts", rs.Status)
	assert.Equal(t, "abcd1234", rs.JobID)
	assert.Equal(t, "log text", rs.Log)

	first, ok := rs.DefaultArtifact()
	require.True(t, ok)
	assert.Equal(t, 2, first.PartCount)

	byLabel, ok := rs.Lookup("5 parts")
	require.True(t, ok)
	assert.Equal(t, 5, byLabel.PartCount)
}

func TestBuildResultNotesUVMaps(t *testing.T) {
	job := jobWithOutputs(t, "x_0_2.obj", "x_0_3.obj")
	job.Params.MaxClusters = 8

	rs := BuildResult(job, "", "")
	assert.Equal(t, "Success! Generated 2 segmentation(s) with 2 to 8 parts (with UV maps)", rs.Status)
}

func TestBuildResultEmptyIsWarningNotError(t *testing.T) {
	job := jobWithOutputs(t)

	rs := BuildResult(job, "/tmp/feat_pca_x.ply", "partial log")
	assert.Equal(t, domain.SeverityWarning, rs.Severity)
	assert.Equal(t, "Warning: No output files generated", rs.Status)
	assert.Empty(t, rs.Artifacts)
	assert.Equal(t, "/tmp/feat_pca_x.ply", rs.PCAPath)

	_, ok := rs.DefaultArtifact()
	assert.False(t, ok)
}
