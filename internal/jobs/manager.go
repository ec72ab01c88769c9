package jobs

import (
	"errors"
	"fmt"
	"sync"

	"partfield-server/internal/domain"
)

// ErrDuplicateJob is returned when registering an id twice.
var ErrDuplicateJob = errors.New("job id already registered")

// ErrUnknownJob is returned for operations on an unregistered id.
var ErrUnknownJob = errors.New("unknown job")

// defaultMaxTracked bounds how many finished jobs stay visible to the API.
const defaultMaxTracked = 200

// Manager tracks all in-flight and recently finished jobs and validates
// their state transitions. Jobs own disjoint workspaces, so the registry is
// the only cross-job shared state.
type Manager struct {
	mu         sync.RWMutex
	jobs       map[string]domain.Job
	order      []string
	maxTracked int
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		jobs:       make(map[string]domain.Job),
		maxTracked: defaultMaxTracked,
	}
}

// Register adds a freshly created job in preparing state.
func (m *Manager) Register(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	job.Status = domain.JobStatusPreparing
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.evictOldestDone()
	return nil
}

// Transition validates and applies a state change for one job.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if job.Status == status {
		return nil
	}
	if !isValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition for %s: %s -> %s", jobID, job.Status, status)
	}

	job.Status = status
	m.jobs[jobID] = job
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// List returns snapshots of all tracked jobs in registration order.
func (m *Manager) List() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out
}

// RunningCount reports how many jobs are in an active pipeline stage.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, job := range m.jobs {
		if isRunning(job.Status) {
			count++
		}
	}
	return count
}

// evictOldestDone trims terminal jobs beyond the tracking cap. Caller holds
// the write lock.
func (m *Manager) evictOldestDone() {
	if len(m.order) <= m.maxTracked {
		return
	}

	kept := m.order[:0]
	excess := len(m.order) - m.maxTracked
	for _, id := range m.order {
		job := m.jobs[id]
		if excess > 0 && !isRunning(job.Status) {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusPreparing, domain.JobStatusExtracting,
		domain.JobStatusClustering, domain.JobStatusHarvesting:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges. Stages are
// strictly sequential; failure is reachable from any active stage.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPreparing:
		return to == domain.JobStatusExtracting || to == domain.JobStatusFailed
	case domain.JobStatusExtracting:
		return to == domain.JobStatusClustering || to == domain.JobStatusFailed
	case domain.JobStatusClustering:
		return to == domain.JobStatusHarvesting || to == domain.JobStatusFailed
	case domain.JobStatusHarvesting:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed
	default:
		return false
	}
}
