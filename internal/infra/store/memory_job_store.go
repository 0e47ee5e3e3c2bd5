// Package store provides in-memory implementations of the persistence ports,
// used in tests and single-node deployments without a database.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

// Compile-time check
var _ repository.JobStore = (*MemoryJobStore)(nil)

// MemoryJobStore keeps jobs in a map guarded by one mutex. Every transition
// checks the current status under the lock, which gives the same
// compare-and-set semantics the postgres store gets from conditional UPDATEs.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryJobStore) List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Job
	for _, j := range s.jobs {
		if f.ClipID != "" && j.Request.ClipID != f.ClipID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryJobStore) Pending(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.JobStatusPending {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i], out[k]
		if a.Request.Priority != b.Request.Priority {
			return a.Request.Priority > b.Request.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemoryJobStore) transition(id string, from []model.JobStatus, mutate func(*model.Job)) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, st := range from {
		if j.Status == st {
			mutate(j)
			return j.Clone(), nil
		}
	}
	if j.Status.Terminal() {
		return nil, domain.ErrJobTerminal
	}
	return nil, domain.ErrStatusConflict
}

func (s *MemoryJobStore) MarkAssigned(ctx context.Context, id, backendID string) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusPending}, func(j *model.Job) {
		j.Status = model.JobStatusAssigned
		j.BackendID = backendID
	})
	return err
}

func (s *MemoryJobStore) Unassign(ctx context.Context, id string) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusAssigned}, func(j *model.Job) {
		j.Status = model.JobStatusPending
		j.BackendID = ""
	})
	return err
}

func (s *MemoryJobStore) MarkExecuting(ctx context.Context, id string) (*model.Job, error) {
	return s.transition(id, []model.JobStatus{model.JobStatusAssigned}, func(j *model.Job) {
		now := time.Now()
		j.Status = model.JobStatusExecuting
		j.StartedAt = &now
	})
}

func (s *MemoryJobStore) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusExecuting}, func(j *model.Job) {
		now := time.Now()
		j.Status = model.JobStatusCompleted
		j.FinishedAt = &now
	})
	return err
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, id string, jobErr model.JobError) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusExecuting}, func(j *model.Job) {
		now := time.Now()
		j.Status = model.JobStatusFailed
		j.FinishedAt = &now
		j.Error = &jobErr
	})
	return err
}

func (s *MemoryJobStore) Requeue(ctx context.Context, id string, jobErr model.JobError) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusExecuting}, func(j *model.Job) {
		j.Status = model.JobStatusPending
		j.BackendID = ""
		j.StartedAt = nil
		j.Attempt++
		j.Error = &jobErr
	})
	return err
}

func (s *MemoryJobStore) MarkCancelled(ctx context.Context, id string) (*model.Job, error) {
	return s.transition(id, []model.JobStatus{
		model.JobStatusPending, model.JobStatusAssigned, model.JobStatusExecuting,
	}, func(j *model.Job) {
		now := time.Now()
		j.Status = model.JobStatusCancelled
		j.FinishedAt = &now
	})
}

func (s *MemoryJobStore) ResetForRetry(ctx context.Context, id string) error {
	_, err := s.transition(id, []model.JobStatus{model.JobStatusFailed}, func(j *model.Job) {
		j.Status = model.JobStatusPending
		j.BackendID = ""
		j.Attempt = 1
		j.StartedAt = nil
		j.FinishedAt = nil
	})
	return err
}

func (s *MemoryJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.JobStatus]int)
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}
