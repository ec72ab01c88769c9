// Package bootstrap wires settings, diagnostics, workspaces, and the
// segmentation pipeline into one application object consumed by the HTTP
// layer.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"partfield-server/internal/config"
	"partfield-server/internal/diagnostics"
	"partfield-server/internal/domain"
	"partfield-server/internal/harvest"
	"partfield-server/internal/jobs"
	"partfield-server/internal/segment"
	"partfield-server/internal/validate"
	"partfield-server/internal/workspace"
)

// PipelineRunner isolates the segmentation pipeline behind an interface.
type PipelineRunner interface {
	Run(ctx context.Context, job domain.Job, sink segment.LineSink, onStage segment.StageSink) (segment.Result, error)
}

// App wires configuration, workspaces, jobs, pipeline, and diagnostics.
type App struct {
	Store       config.Store
	Jobs        *jobs.Manager
	Workspaces  *workspace.Manager
	Diagnostics domain.DiagnosticReport

	checker     *diagnostics.Checker
	events      *jobs.EventBus
	logger      *slog.Logger
	jobsDir     string
	newPipeline func(settings domain.Settings) PipelineRunner
	now         func() time.Time

	mu       sync.Mutex
	settings domain.Settings
}

// New builds the application with persisted settings and startup diagnostics.
func New(jobsDir string, logger *slog.Logger) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewYAMLStore(filepath.Join(homeDir, ".partfield-server", "settings.yaml"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare jobs directory: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings, jobsDir)

	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		Store:       store,
		Jobs:        jobs.NewManager(),
		Workspaces:  workspace.NewManager(jobsDir),
		Diagnostics: report,
		checker:     checker,
		events:      jobs.NewEventBus(1000),
		logger:      logger,
		jobsDir:     jobsDir,
		newPipeline: func(settings domain.Settings) PipelineRunner { return segment.New(settings) },
		now:         time.Now,
		settings:    settings,
	}, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized, a.jobsDir)
	}
	a.mu.Unlock()

	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	a.Diagnostics = a.checker.Run(settings, a.jobsDir)
	return a.Diagnostics, nil
}

// ListJobs returns registry snapshots for all tracked jobs.
func (a *App) ListJobs() []domain.Job {
	return a.Jobs.List()
}

// GetJob returns one tracked job by id.
func (a *App) GetJob(jobID string) (domain.Job, bool) {
	return a.Jobs.Get(jobID)
}

// JobEvents returns all events with sequence greater than sinceSeq,
// optionally filtered to one job.
func (a *App) JobEvents(sinceSeq int64, jobID string) []jobs.Event {
	if jobID != "" {
		return a.events.SinceJob(jobID, sinceSeq)
	}
	return a.events.Since(sinceSeq)
}

// ArtifactPath resolves an artifact file name inside a job's output tree.
// Only bare file names are accepted, so a crafted name cannot escape the
// workspace.
func (a *App) ArtifactPath(jobID, name string) (string, error) {
	job, ok := a.Jobs.Get(jobID)
	if !ok {
		return "", fmt.Errorf("%w: %s", jobs.ErrUnknownJob, jobID)
	}

	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact name: %q", name)
	}

	candidates := []string{
		filepath.Join(job.OutputDir, "ply", name),
		filepath.Join(job.OutputDir, name),
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("artifact not found: %s", name)
}

// RunJob validates the upload, allocates a workspace, and drives the full
// segmentation pipeline to completion. It blocks until the job reaches a
// terminal state. The error return covers only rejections that happen before
// a job exists; once a job is registered, every outcome is a ResultSet.
func (a *App) RunJob(ctx context.Context, uploadPath string, params domain.Params) (domain.ResultSet, error) {
	if err := params.Validate(); err != nil {
		return domain.ResultSet{}, err
	}
	if err := validate.File(uploadPath); err != nil {
		return domain.ResultSet{}, err
	}

	settings, err := a.GetSettings()
	if err != nil {
		return domain.ResultSet{}, err
	}

	// Expired workspaces are swept on the accepted-submission path, so the
	// server needs no background timer.
	expiry := time.Duration(settings.ExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = time.Duration(config.DefaultExpiryHours) * time.Hour
	}
	if removed := a.Workspaces.Sweep(expiry); removed > 0 {
		a.logger.Info("swept expired job workspaces", "removed", removed)
	}

	job, err := a.Workspaces.Create(uploadPath, params)
	if err != nil {
		return domain.ResultSet{}, err
	}
	if err := a.Jobs.Register(job); err != nil {
		return domain.ResultSet{}, err
	}

	a.logger.Info("job accepted", "job", job.ID, "input", filepath.Base(uploadPath))
	return a.executeJob(ctx, job, settings), nil
}

// executeJob runs the pipeline for a registered job and maps every outcome,
// success or failure, into a ResultSet.
func (a *App) executeJob(ctx context.Context, job domain.Job, settings domain.Settings) domain.ResultSet {
	transcript := &strings.Builder{}
	a.publishStatus(job.ID, domain.JobStatusPreparing, "Workspace created")
	a.appendMarker(transcript, "Workspace created for "+filepath.Base(job.InputFile))

	onLine := func(line string) {
		transcript.WriteString(line)
		transcript.WriteString("\n")
		a.events.Publish(jobs.Event{
			JobID: job.ID,
			Type:  jobs.EventTypeLog,
			Line:  line,
		})
	}
	onStage := func(stage string) {
		status, ok := stageStatus(stage)
		if !ok {
			return
		}
		if err := a.Jobs.Transition(job.ID, status); err == nil {
			a.appendMarker(transcript, "Running "+stage)
			a.publishStatus(job.ID, status, "Running "+stage)
		}
	}

	pipeline := a.newPipeline(settings)
	pipeRes, err := pipeline.Run(ctx, job, onLine, onStage)
	if err != nil {
		return a.failJob(job, transcript, err)
	}

	if err := a.Jobs.Transition(job.ID, domain.JobStatusHarvesting); err == nil {
		a.publishStatus(job.ID, domain.JobStatusHarvesting, "Collecting segmentations")
	}
	a.appendMarker(transcript, "Collecting segmentations")

	result := harvest.BuildResult(job, pipeRes.PCAPath, transcript.String())

	_ = a.Jobs.Transition(job.ID, domain.JobStatusDone)
	a.publishStatus(job.ID, domain.JobStatusDone, result.Status)
	a.events.Publish(jobs.Event{
		JobID:     job.ID,
		Type:      jobs.EventTypeResult,
		Status:    domain.JobStatusDone,
		Message:   result.Status,
		Artifacts: len(result.Artifacts),
	})

	a.logger.Info("job finished", "job", job.ID, "severity", string(result.Severity), "artifacts", len(result.Artifacts))
	return result
}

// failJob marks the job failed and converts the pipeline error into the
// normalized failure ResultSet.
func (a *App) failJob(job domain.Job, transcript *strings.Builder, err error) domain.ResultSet {
	status := "Error: Feature extraction failed"
	var stageErr *segment.StageError
	if errors.As(err, &stageErr) {
		status = stageErr.Status
		if stageErr.Tail != "" {
			a.appendMarker(transcript, "Last output:\n"+stageErr.Tail)
		}
	}
	a.appendMarker(transcript, status)

	_ = a.Jobs.Transition(job.ID, domain.JobStatusFailed)
	a.publishStatus(job.ID, domain.JobStatusFailed, status)
	a.events.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeError,
		Status:  domain.JobStatusFailed,
		Message: status,
	})

	a.logger.Warn("job failed", "job", job.ID, "status", status)
	return domain.ResultSet{
		JobID:    job.ID,
		Status:   status,
		Severity: domain.SeverityError,
		Log:      transcript.String(),
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.events.Publish(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// appendMarker writes a timestamped orchestration line into the transcript,
// between the raw subprocess output blocks.
func (a *App) appendMarker(transcript *strings.Builder, message string) {
	fmt.Fprintf(transcript, "[%s] %s\n", a.now().Format("15:04:05"), message)
}

// stageStatus maps pipeline stage names to job statuses.
func stageStatus(stage string) (domain.JobStatus, bool) {
	switch stage {
	case segment.StageFeatureExtraction:
		return domain.JobStatusExtracting, true
	case segment.StageClustering:
		return domain.JobStatusClustering, true
	default:
		return "", false
	}
}

// normalizeSettings trims user inputs and restores defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.PartFieldDir = strings.TrimSpace(settings.PartFieldDir)
	settings.PythonBin = strings.TrimSpace(settings.PythonBin)
	settings.Checkpoint = strings.TrimSpace(settings.Checkpoint)
	settings.ConfigFile = strings.TrimSpace(settings.ConfigFile)

	if settings.PythonBin == "" {
		settings.PythonBin = defaults.PythonBin
	}
	if settings.Checkpoint == "" {
		settings.Checkpoint = defaults.Checkpoint
	}
	if settings.ConfigFile == "" {
		settings.ConfigFile = defaults.ConfigFile
	}
	if settings.ExpiryHours <= 0 {
		settings.ExpiryHours = defaults.ExpiryHours
	}
	return settings
}

// NewForTests constructs an App with injectable collaborators.
func NewForTests(
	store config.Store,
	workspaces *workspace.Manager,
	newPipeline func(settings domain.Settings) PipelineRunner,
	checker *diagnostics.Checker,
	jobsDir string,
	now func() time.Time,
) *App {
	app := &App{
		Store:       store,
		Jobs:        jobs.NewManager(),
		Workspaces:  workspaces,
		checker:     checker,
		events:      jobs.NewEventBus(1000),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobsDir:     jobsDir,
		newPipeline: newPipeline,
		now:         now,
	}
	if app.checker == nil {
		app.checker = diagnostics.NewChecker()
	}
	if app.now == nil {
		app.now = time.Now
	}
	if app.newPipeline == nil {
		app.newPipeline = func(settings domain.Settings) PipelineRunner { return segment.New(settings) }
	}
	return app
}
