package jobs

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

// Store is an in-memory registry of jobs. A single mutex serializes every read and write,
// so eviction and update never interleave for the same id.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*types.Job
	workspace *Workspace
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for eviction tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store whose working areas live in ws.
func NewStore(logger *slog.Logger, ws *Workspace, opts ...Option) *Store {
	s := &Store{
		jobs:      make(map[string]*types.Job),
		workspace: ws,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workspace returns the working-area manager used by the store.
func (s *Store) Workspace() *Workspace {
	return s.workspace
}

// Create allocates a new pending job and its working directory.
func (s *Store) Create(originalName string) (types.Job, error) {
	id := uuid.New().String()
	dir, err := s.workspace.Prepare(id)
	if err != nil {
		return types.Job{}, err
	}

	job := &types.Job{
		ID:           id,
		CreatedAt:    s.now(),
		Status:       types.JobStatusPending,
		OriginalName: originalName,
		WorkDir:      dir,
	}

	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()

	s.logger.Debug("created job", "job_id", id, "original_filename", originalName)
	return *job, nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// Update applies the non-nil fields of u and returns the resulting job.
// A status change that breaks the lifecycle rejects the whole update with ErrInvalidTransition.
func (s *Store) Update(id string, u types.JobUpdate) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, ErrJobNotFound
	}

	if u.Status != nil && !job.Status.CanTransitionTo(*u.Status) {
		s.logger.Warn("rejected job status change",
			"job_id", id, "from", job.Status, "to", *u.Status)
		return *job, ErrInvalidTransition
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		p := min(max(*u.Progress, 0), 100)
		if p > job.Progress {
			job.Progress = p
		}
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	if u.ErrorCode != nil {
		job.ErrorCode = *u.ErrorCode
	}
	if u.OutputPath != nil {
		job.OutputPath = *u.OutputPath
	}
	if u.Result != nil {
		report := *u.Result
		job.Result = &report
	}

	s.logger.Debug("updated job", "job_id", id, "status", job.Status, "progress", job.Progress)
	return *job, nil
}

// OutputFile returns the artifact of a completed job if it is still on disk.
func (s *Store) OutputFile(id string) (string, bool) {
	job, ok := s.Get(id)
	if !ok || job.Status != types.JobStatusCompleted || job.OutputPath == "" {
		return "", false
	}
	if st, err := os.Stat(job.OutputPath); err != nil || st.IsDir() {
		return "", false
	}
	return job.OutputPath, true
}

// List returns copies of all jobs, oldest first.
func (s *Store) List() []types.Job {
	s.mu.Lock()
	out := make([]types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes a job and its working directory. Unknown ids are a no-op.
func (s *Store) Cleanup(id string) {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.removeWorkspace(id)
	s.logger.Debug("cleaned up job", "job_id", id)
}

// CleanupOlderThan evicts every job created before now-maxAge and returns how many were removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	var evicted []string
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	// Records are already gone, so nothing can resolve these directories any more.
	for _, id := range evicted {
		s.removeWorkspace(id)
	}

	if len(evicted) > 0 {
		s.logger.Info("cleaned up old jobs", "count", len(evicted), "max_age", maxAge)
	}
	return len(evicted)
}

func (s *Store) removeWorkspace(id string) {
	if err := s.workspace.Remove(id); err != nil {
		s.logger.Warn("failed to remove job workspace", "job_id", id, "error", err)
	}
}
