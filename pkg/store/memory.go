package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// MemoryStore is an in-memory implementation of the job store.
// Jobs are held as private copies so callers never alias stored state.
type MemoryStore struct {
	jobs    map[string]*models.Job
	order   []string // job IDs in insertion order
	nextID  int64
	jobsMu  sync.RWMutex
	nowFunc func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*models.Job),
		order:   make([]string, 0),
		nowFunc: time.Now,
	}
}

// SetClock overrides the time source used for readiness checks
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.nowFunc = now
}

// Enqueue inserts a new job and returns its assigned ID
func (s *MemoryStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errdefs.Persistence("enqueue", job.JobID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	prepareInsert(job, s.nowFunc())
	if _, exists := s.jobs[job.JobID]; exists {
		return "", errdefs.Persistence("enqueue", job.JobID, errDuplicateJob)
	}
	s.nextID++
	job.RecordID = s.nextID
	s.jobs[job.JobID] = job.Clone()
	s.order = append(s.order, job.JobID)
	return job.JobID, nil
}

// GetQueue returns active jobs ordered by record ID. With ready set, only
// jobs whose update interval has elapsed are returned.
func (s *MemoryStore) GetQueue(ctx context.Context, ready bool) ([]*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	now := s.nowFunc()
	jobs := make([]*models.Job, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if !job.Active {
			continue
		}
		if ready && job.ReadyAt().After(now) {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

// GetInactiveSince returns unarchived inactive jobs finalized after since
func (s *MemoryStore) GetInactiveSince(ctx context.Context, since time.Time) ([]*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	jobs := make([]*models.Job, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Active || job.Archived || job.FinalizedAt == nil {
			continue
		}
		if job.FinalizedAt.After(since) {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs, nil
}

// Update overwrites the stored job. Last writer wins.
func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return errdefs.Persistence("update", job.JobID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	existing, ok := s.jobs[job.JobID]
	if !ok {
		return errdefs.Persistence("update", job.JobID, ErrJobNotFound)
	}
	stored := job.Clone()
	stored.RecordID = existing.RecordID
	s.jobs[job.JobID] = stored
	return nil
}

// AllTaskIDs returns the task IDs of all active jobs
func (s *MemoryStore) AllTaskIDs(ctx context.Context) ([]string, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	ids := make([]string, 0)
	for _, id := range s.order {
		if job := s.jobs[id]; job.Active {
			ids = append(ids, job.TaskID)
		}
	}
	return ids, nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// SearchJobs returns one page of jobs matching filter and the total match count
func (s *MemoryStore) SearchJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	matched := make([]*models.Job, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if !matchesStatus(job, filter.Status) {
			continue
		}
		if filter.TaskID != "" && !strings.Contains(job.TaskID, filter.TaskID) {
			continue
		}
		matched = append(matched, job)
	}

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*models.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	page := make([]*models.Job, 0, end-start)
	for _, job := range matched[start:end] {
		page = append(page, job.Clone())
	}
	return page, total, nil
}

// TaskIDsBySubmitter returns the distinct task IDs of organic jobs a submitter created
func (s *MemoryStore) TaskIDsBySubmitter(ctx context.Context, submitter string) ([]string, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, id := range s.order {
		job := s.jobs[id]
		if !job.IsOrganic || job.Submitter != submitter || seen[job.TaskID] {
			continue
		}
		seen[job.TaskID] = true
		ids = append(ids, job.TaskID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Archive marks a finalized job as archived
func (s *MemoryStore) Archive(ctx context.Context, jobID string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return errdefs.Persistence("archive", jobID, ErrJobNotFound)
	}
	job.Archived = true
	return nil
}

// DeleteArchivedBefore removes archived jobs finalized before the cutoff
func (s *MemoryStore) DeleteArchivedBefore(ctx context.Context, before time.Time) (int, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	kept := s.order[:0]
	deleted := 0
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Archived && job.FinalizedAt != nil && job.FinalizedAt.Before(before) {
			delete(s.jobs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Vacuum is a no-op for the memory store
func (s *MemoryStore) Vacuum() error {
	return nil
}
