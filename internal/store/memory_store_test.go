package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

func newQueuedJob(id string, priority int, createdAt time.Time) *model.Job {
	return &model.Job{
		ID:         id,
		OwnerID:    "user-1",
		ProjectID:  "project-1",
		Status:     model.JobStatusQueued,
		Priority:   priority,
		MaxRetries: model.DefaultMaxRetries,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(30 * 24 * time.Hour),
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	job := newQueuedJob("job-1", 0, time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != "job-1" || got.Status != model.JobStatusQueued {
		t.Errorf("unexpected job: %+v", got)
	}

	// Duplicate id is a conflict
	if err := s.Create(ctx, job); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate create, got %v", err)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	if err := s.Create(ctx, newQueuedJob("job-1", 0, time.Now())); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	got.Status = model.JobStatusFailed
	got.Progress = 99

	again, _ := s.Get(ctx, "job-1")
	if again.Status != model.JobStatusQueued || again.Progress != 0 {
		t.Errorf("mutating a returned job leaked into the store: %+v", again)
	}
}

func TestMemoryStore_ClaimNext_PriorityOrder(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	base := time.Now()

	// Lower priority submitted first must not win
	if err := s.Create(ctx, newQueuedJob("low", 5, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newQueuedJob("high", 10, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	job, err := s.ClaimNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job.ID != "high" {
		t.Errorf("expected high-priority job first, got %s", job.ID)
	}
	if job.Status != model.JobStatusProcessing {
		t.Errorf("claimed job should be processing, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("claimed job should have startedAt set")
	}

	job, err = s.ClaimNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if job.ID != "low" {
		t.Errorf("expected low-priority job second, got %s", job.ID)
	}

	if _, err := s.ClaimNext(ctx, time.Now()); !errors.Is(err, ErrNoJob) {
		t.Errorf("expected ErrNoJob on empty queue, got %v", err)
	}
}

func TestMemoryStore_ClaimNext_FIFOWithinPriority(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	base := time.Now()

	if err := s.Create(ctx, newQueuedJob("second", 7, base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newQueuedJob("first", 7, base)); err != nil {
		t.Fatal(err)
	}

	job, err := s.ClaimNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job.ID != "first" {
		t.Errorf("equal priority should be FIFO, got %s first", job.ID)
	}
}

func TestMemoryStore_ClaimNext_SingleWinner(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	if err := s.Create(ctx, newQueuedJob("only", 0, time.Now())); err != nil {
		t.Fatal(err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimNext(ctx, time.Now()); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one successful claim, got %d", winners)
	}
}

func TestMemoryStore_Mutate_RejectionLeavesOriginal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	if err := s.Create(ctx, newQueuedJob("job-1", 0, time.Now())); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("rejected")
	_, err := s.Mutate(ctx, "job-1", func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Progress = 50
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rejection error, got %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Status != model.JobStatusQueued || got.Progress != 0 {
		t.Errorf("rejected mutation leaked into the store: %+v", got)
	}
}

func TestMemoryStore_Mutate_AppliesChanges(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	if err := s.Create(ctx, newQueuedJob("job-1", 0, time.Now())); err != nil {
		t.Fatal(err)
	}

	job, err := s.Mutate(ctx, "job-1", func(j *model.Job) error {
		j.Priority = 42
		return nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if job.Priority != 42 {
		t.Errorf("expected returned job to carry the change, got %d", job.Priority)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Priority != 42 {
		t.Errorf("expected stored job to carry the change, got %d", got.Priority)
	}

	if _, err := s.Mutate(ctx, "nope", func(*model.Job) error { return nil }); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListExpiredTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	now := time.Now()

	expired := newQueuedJob("expired", 0, now.Add(-48*time.Hour))
	expired.Status = model.JobStatusCompleted
	expired.ExpiresAt = now.Add(-time.Hour)

	fresh := newQueuedJob("fresh", 0, now)
	fresh.Status = model.JobStatusFailed
	fresh.ExpiresAt = now.Add(time.Hour)

	// Expired but still running: never listed
	running := newQueuedJob("running", 0, now.Add(-48*time.Hour))
	running.Status = model.JobStatusProcessing
	running.ExpiresAt = now.Add(-time.Hour)

	for _, j := range []*model.Job{expired, fresh, running} {
		if err := s.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := s.ListExpiredTerminal(ctx, now)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "expired" {
		t.Errorf("expected [expired], got %v", ids)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	if err := s.Create(ctx, newQueuedJob("job-1", 0, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "job-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}
