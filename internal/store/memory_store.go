package store

import (
	"context"
	"sync"
	"time"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// MemoryJobStore is a mutex-guarded in-process store. Single process only;
// it is the default backend for development and the one the tests run on.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*model.Job),
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return model.ErrConflict
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) ClaimNext(ctx context.Context, now time.Time) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Job
	for _, job := range s.jobs {
		if job.Status != model.JobStatusQueued {
			continue
		}
		if best == nil || claimOrder(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNoJob
	}

	best.Status = model.JobStatusProcessing
	started := now
	best.StartedAt = &started
	best.Progress = 0
	return best.Clone(), nil
}

func (s *MemoryJobStore) Mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}

	// fn mutates a copy; the original is untouched when fn rejects.
	next := job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) ListExpiredTerminal(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if job.IsTerminal() && !job.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
