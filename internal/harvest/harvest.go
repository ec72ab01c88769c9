// Package harvest discovers produced segmentation artifacts in a job's
// output tree and normalizes them into an ordered, labeled result set.
package harvest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"partfield-server/internal/domain"
)

// outputSubdir is where the clustering stage dumps mesh files.
const outputSubdir = "ply"

// PartCount derives the sort key from the {uid}_{view}_{count}.{ext} filename
// convention. Unparsable names sort first with key zero, never an error.
func PartCount(path string) int {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(stem[idx+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Collect scans the job's output subtree for produced mesh files, sorts them
// ascending by part count, and deduplicates per count preferring the
// UV-preserving OBJ variant over the PLY one.
func Collect(job domain.Job) []domain.Artifact {
	dir := filepath.Join(job.OutputDir, outputSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var artifacts []domain.Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".ply" && ext != ".obj" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		format := domain.FormatMesh
		if ext == ".obj" {
			format = domain.FormatMeshUV
		}
		artifacts = append(artifacts, domain.Artifact{
			Path:      path,
			Format:    format,
			PartCount: PartCount(path),
		})
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].PartCount < artifacts[j].PartCount
	})

	artifacts = dedupByCount(artifacts)
	for i := range artifacts {
		artifacts[i].Label = label(artifacts[i])
	}
	return artifacts
}

// BuildResult assembles the normalized per-job outcome after a successful
// pipeline run. An empty harvest is a warning, not an error: the pipeline ran
// to completion but produced nothing.
func BuildResult(job domain.Job, pcaPath, log string) domain.ResultSet {
	artifacts := Collect(job)
	if len(artifacts) == 0 {
		return domain.ResultSet{
			JobID:    job.ID,
			Status:   "Warning: No output files generated",
			Severity: domain.SeverityWarning,
			PCAPath:  pcaPath,
			Log:      log,
		}
	}

	formatNote := ""
	for _, a := range artifacts {
		if a.Format == domain.FormatMeshUV {
			formatNote = " (with UV maps)"
			break
		}
	}

	return domain.ResultSet{
		JobID: job.ID,
		Status: fmt.Sprintf("Success! Generated %d segmentation(s) with 2 to %d parts%s",
			len(artifacts), job.Params.MaxClusters, formatNote),
		Severity:  domain.SeveritySuccess,
		Artifacts: artifacts,
		PCAPath:   pcaPath,
		Log:       log,
	}
}

// dedupByCount keeps one artifact per parsed part count, preferring the
// UV-preserving format. Unparsable names (count zero) are all kept since they
// may be distinct files.
func dedupByCount(sorted []domain.Artifact) []domain.Artifact {
	out := sorted[:0:0]
	byCount := make(map[int]int)
	for _, a := range sorted {
		if a.PartCount == 0 {
			out = append(out, a)
			continue
		}
		idx, seen := byCount[a.PartCount]
		if !seen {
			byCount[a.PartCount] = len(out)
			out = append(out, a)
			continue
		}
		if out[idx].Format != domain.FormatMeshUV && a.Format == domain.FormatMeshUV {
			out[idx] = a
		}
	}
	return out
}

// label builds the human-facing selection entry for an artifact.
func label(a domain.Artifact) string {
	if a.PartCount == 0 {
		return strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path))
	}
	suffix := ""
	if a.Format == domain.FormatMeshUV {
		suffix = " (UV)"
	}
	return fmt.Sprintf("%d parts%s", a.PartCount, suffix)
}
