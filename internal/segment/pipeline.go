// Package segment runs the two-stage PartField pipeline (feature extraction,
// then part clustering) as external processes against one job's workspace.
package segment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"partfield-server/internal/domain"
)

// Stage names used in failure reporting.
const (
	StageFeatureExtraction = "feature extraction"
	StageClustering        = "clustering"
)

// Classification distinguishes known failure signatures from generic ones.
type Classification string

const (
	ClassificationGeneric     Classification = "generic"
	ClassificationOutOfMemory Classification = "out_of_memory"
)

// oomSignatures are scanned in stage-1 output to detect GPU memory exhaustion.
var oomSignatures = []string{"CUDA out of memory", "OutOfMemoryError"}

// tail bounds for user-visible diagnostics. The full transcript still reaches
// the line sink.
const (
	genericTailLimit = 1000
	oomTailLimit     = 500
)

// StageError is a stage-aware pipeline failure with a bounded output tail.
type StageError struct {
	Stage          string
	Classification Classification
	Status         string
	Tail           string
	Err            error
}

// Error formats the failure for logs.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Status)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Result describes a successful pipeline run.
type Result struct {
	FeaturesDir string
	PCAPath     string
}

// Pipeline orchestrates feature extraction and clustering subprocesses.
type Pipeline struct {
	settings  domain.Settings
	runner    commandRunner
	clearGPU  func(ctx context.Context)
	removeAll func(path string) error
	glob      func(pattern string) ([]string, error)
}

// New constructs the production pipeline with OS dependencies.
func New(settings domain.Settings) *Pipeline {
	p := &Pipeline{
		settings:  settings,
		runner:    &execRunner{},
		removeAll: os.RemoveAll,
		glob:      filepath.Glob,
	}
	p.clearGPU = p.clearGPUViaPython
	return p
}

// FeaturesDir returns the stage-1 output directory for a job.
func (p *Pipeline) FeaturesDir(job domain.Job) string {
	return filepath.Join(p.settings.PartFieldDir, "exp_results", resultName(job))
}

// StageSink is notified when a stage starts, before its process is spawned.
type StageSink func(stage string)

// Run executes both stages sequentially. Each output line is pushed to sink
// before stage exit is observed; onStage fires at each stage boundary. On
// success the intermediate features directory has already been deleted; the
// auxiliary PCA visualization, when produced, has been copied into the job's
// output tree first.
func (p *Pipeline) Run(ctx context.Context, job domain.Job, sink LineSink, onStage StageSink) (Result, error) {
	featuresDir := p.FeaturesDir(job)

	// Advisory cache clear, not mutual exclusion. Failures are swallowed.
	p.clearGPU(ctx)

	notifyStage(onStage, StageFeatureExtraction)
	inferArgs := buildInferenceArgs(p.settings, job)
	inferRes, runErr := p.runner.Run(ctx, p.settings.PartFieldDir, p.settings.PythonBin, inferArgs, sink)
	if runErr != nil || inferRes.ExitCode != 0 {
		if matchesOOM(inferRes.Output) {
			return Result{}, &StageError{
				Stage:          StageFeatureExtraction,
				Classification: ClassificationOutOfMemory,
				Status:         "Error: GPU out of memory. Try reducing 'Points per face' in advanced options.",
				Tail:           tail(inferRes.Output, oomTailLimit),
				Err:            runErr,
			}
		}
		return Result{}, &StageError{
			Stage:          StageFeatureExtraction,
			Classification: ClassificationGeneric,
			Status:         "Error: Feature extraction failed",
			Tail:           tail(inferRes.Output, genericTailLimit),
			Err:            runErr,
		}
	}

	// The features dir is deleted after clustering, so the visualization is
	// rescued into the job's own output tree first.
	pcaPath := p.preservePCA(featuresDir, job.OutputDir)

	notifyStage(onStage, StageClustering)
	clusterArgs := buildClusteringArgs(featuresDir, job)
	clusterRes, runErr := p.runner.Run(ctx, p.settings.PartFieldDir, p.settings.PythonBin, clusterArgs, sink)
	if runErr != nil || clusterRes.ExitCode != 0 {
		return Result{}, &StageError{
			Stage:          StageClustering,
			Classification: ClassificationGeneric,
			Status:         "Error: Clustering failed",
			Tail:           tail(clusterRes.Output, genericTailLimit),
			Err:            runErr,
		}
	}

	p.clearGPU(ctx)

	// Large intermediate features are never needed once clustering completes.
	_ = p.removeAll(featuresDir)

	return Result{FeaturesDir: featuresDir, PCAPath: pcaPath}, nil
}

func notifyStage(onStage StageSink, stage string) {
	if onStage != nil {
		onStage(stage)
	}
}

// preservePCA copies the first feat_pca_*.ply from the features dir into
// destDir. Returns the copy's path, or "" when none was produced.
func (p *Pipeline) preservePCA(featuresDir, destDir string) string {
	matches, err := p.glob(filepath.Join(featuresDir, "feat_pca_*.ply"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	src := matches[0]
	dst := filepath.Join(destDir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return ""
	}
	return dst
}

// clearGPUViaPython asks the Python environment to release cached GPU memory.
// Best effort: any failure is ignored.
func (p *Pipeline) clearGPUViaPython(ctx context.Context) {
	script := "import torch\n" +
		"if torch.cuda.is_available():\n" +
		"    torch.cuda.empty_cache()\n" +
		"    torch.cuda.synchronize()\n"
	_, _ = p.runner.Run(ctx, p.settings.PartFieldDir, p.settings.PythonBin, []string{"-c", script}, nil)
}

// resultName is the job-scoped stage-1 result identifier.
func resultName(job domain.Job) string {
	return "job_" + job.ID
}

// pyBool renders a bool the way the Python CLIs expect it.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// buildInferenceArgs builds the feature-extraction invocation from the job's
// parameter snapshot.
func buildInferenceArgs(settings domain.Settings, job domain.Job) []string {
	args := []string{
		"partfield_inference.py",
		"-c", settings.ConfigFile,
		"--opts",
		"continue_ckpt", settings.Checkpoint,
		"result_name", resultName(job),
		"dataset.data_path", job.InputDir,
		"is_pc", pyBool(job.Params.IsPointCloud),
		"n_point_per_face", strconv.Itoa(job.Params.PointsPerFace),
		"dataset.val_num_workers", "2",
		"dataset.val_batch_size", "1",
	}

	if job.Params.PreprocessMesh && !job.Params.IsPointCloud {
		args = append(args, "preprocess_mesh", "True")
	}

	return args
}

// buildClusteringArgs builds the clustering invocation. Point clouds skip the
// mesh-specific adjacency and agglomeration flags.
func buildClusteringArgs(featuresDir string, job domain.Job) []string {
	args := []string{
		"run_part_clustering.py",
		"--root", featuresDir,
		"--dump_dir", job.OutputDir,
		"--source_dir", job.InputDir,
		"--max_num_clusters", strconv.Itoa(job.Params.MaxClusters),
		"--is_pc", pyBool(job.Params.IsPointCloud),
		"--export_mesh", "True",
	}

	if !job.Params.IsPointCloud {
		args = append(args,
			"--use_agglo", pyBool(job.Params.UseAgglomerative),
			"--option", strconv.Itoa(int(job.Params.Adjacency)),
			"--with_knn", pyBool(job.Params.AddKNNEdges),
		)
	}

	return args
}

// matchesOOM reports whether output carries a known GPU memory signature.
func matchesOOM(output string) bool {
	for _, sig := range oomSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return false
}

// tail returns the last limit bytes of s.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

// copyFile copies src to dst, creating or truncating dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// NewForTests constructs a pipeline with injectable dependencies.
func NewForTests(
	settings domain.Settings,
	runner commandRunner,
	clearGPU func(ctx context.Context),
	removeAll func(path string) error,
) *Pipeline {
	p := &Pipeline{
		settings:  settings,
		runner:    runner,
		clearGPU:  clearGPU,
		removeAll: removeAll,
		glob:      filepath.Glob,
	}
	if p.clearGPU == nil {
		p.clearGPU = func(context.Context) {}
	}
	if p.removeAll == nil {
		p.removeAll = os.RemoveAll
	}
	return p
}
