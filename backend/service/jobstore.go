package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

// JobStore tracks analysis jobs through their lifecycle. The in-memory
// implementation below is the default; a persistent one can be swapped in
// behind this interface without touching the orchestrator or handlers.
type JobStore interface {
	Create(job *model.Job) error
	Get(id string) (*model.Job, error)
	List() []*model.Job
	Delete(id string) error

	// Transition atomically moves a job from one status to another and
	// returns the updated snapshot. A job in any other status fails the
	// swap with InvalidStateError. Transitioning back to uploaded (retry)
	// resets progress, error and completed steps in the same swap.
	Transition(id, from, to string) (*model.Job, error)

	// SetProgress raises the job's progress and step label. Progress never
	// decreases, and terminal jobs ignore late reports entirely.
	SetProgress(id string, progress int, step string) error
	AppendStep(id, marker string) error

	// Complete atomically moves from -> completed with progress 100 and
	// records the case the results were cached under.
	Complete(id, from, caseID string, cacheHit bool) (*model.Job, error)

	// Fail moves any non-terminal job to failed, storing the message
	// exactly as given. Progress stays where it was.
	Fail(id, errMsg string) (*model.Job, error)

	Count() int
}

// MemoryJobStore is an in-memory JobStore. Jobs beyond the configured cap
// are dropped oldest-first, skipping jobs that are still running.
type MemoryJobStore struct {
	jobs    map[string]*model.Job
	mu      sync.RWMutex
	maxJobs int // 0 = unlimited
	bus     *EventBus
}

// NewMemoryJobStore creates a job store. bus may be nil when no status
// push is wanted (tests mostly pass nil).
func NewMemoryJobStore(cfg *config.StoreConfig, bus *EventBus) *MemoryJobStore {
	maxJobs := 0
	if cfg != nil && cfg.MaxJobs > 0 {
		maxJobs = cfg.MaxJobs
	}
	return &MemoryJobStore{
		jobs:    make(map[string]*model.Job),
		maxJobs: maxJobs,
		bus:     bus,
	}
}

func (s *MemoryJobStore) publish(job *model.Job) {
	if s.bus != nil {
		s.bus.Publish(job.Snapshot())
	}
}

func (s *MemoryJobStore) Create(job *model.Job) error {
	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return model.NewValidationError("job %s already exists", job.ID)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	stored := job.Clone()
	s.jobs[job.ID] = stored
	s.cleanupIfNeeded()
	snapshot := stored.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

func (s *MemoryJobStore) Get(id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs, newest first.
func (s *MemoryJobStore) List() []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *MemoryJobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) Transition(id, from, to string) (*model.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrNotFound
	}
	if job.Status != from {
		status := job.Status
		s.mu.Unlock()
		return nil, &model.InvalidStateError{JobID: id, Status: status, Op: "transition to " + to}
	}

	job.Status = to
	job.UpdatedAt = time.Now()
	if to == model.StatusUploaded {
		// Retry path: the new run starts from scratch.
		job.Progress = 0
		job.Error = ""
		job.CompletedSteps = nil
		job.CurrentStep = model.StepUploaded
		job.CaseID = ""
		job.CacheHit = false
	}
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot.Clone(), nil
}

func (s *MemoryJobStore) SetProgress(id string, progress int, step string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return model.ErrNotFound
	}
	if job.Terminal() || progress < job.Progress {
		s.mu.Unlock()
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	if step != "" {
		job.CurrentStep = step
	}
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

func (s *MemoryJobStore) AppendStep(id, marker string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return model.ErrNotFound
	}
	for _, m := range job.CompletedSteps {
		if m == marker {
			s.mu.Unlock()
			return nil
		}
	}
	job.CompletedSteps = append(job.CompletedSteps, marker)
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

func (s *MemoryJobStore) Complete(id, from, caseID string, cacheHit bool) (*model.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrNotFound
	}
	if job.Status != from {
		status := job.Status
		s.mu.Unlock()
		return nil, &model.InvalidStateError{JobID: id, Status: status, Op: "complete"}
	}

	job.Status = model.StatusCompleted
	job.Progress = 100
	job.CurrentStep = model.StepCompleted
	job.CaseID = caseID
	job.CacheHit = cacheHit
	job.Error = ""
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot.Clone(), nil
}

func (s *MemoryJobStore) Fail(id, errMsg string) (*model.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, model.ErrNotFound
	}
	if job.Terminal() {
		status := job.Status
		s.mu.Unlock()
		return nil, &model.InvalidStateError{JobID: id, Status: status, Op: "fail"}
	}

	job.Status = model.StatusFailed
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	s.mu.Unlock()

	s.publish(snapshot)
	return snapshot.Clone(), nil
}

// cleanupIfNeeded removes the oldest terminal jobs if the store exceeds
// maxJobs. Must be called with lock held.
func (s *MemoryJobStore) cleanupIfNeeded() {
	if s.maxJobs <= 0 {
		return // Unlimited
	}

	if len(s.jobs) <= s.maxJobs {
		return
	}

	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Terminal() {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	removeCount := len(s.jobs) - s.maxJobs
	for i := 0; i < removeCount && i < len(jobs); i++ {
		slog.Info("auto-cleaning old job",
			"job_id", jobs[i].ID,
			"status", jobs[i].Status,
			"created_at", jobs[i].CreatedAt,
		)
		delete(s.jobs, jobs[i].ID)
	}
}

// Count returns the number of jobs in the store
func (s *MemoryJobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
