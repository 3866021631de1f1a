// Package store owns export job persistence and the atomic claim that hands
// a queued job to exactly one worker.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// ErrNoJob is returned by ClaimNext when nothing is queued.
var ErrNoJob = errors.New("no queued jobs")

// JobStore is the storage contract for export jobs.
//
// ClaimNext must be linearizable across concurrent callers: it flips the
// single best queued job (highest priority, then earliest createdAt) to
// processing, sets startedAt, and returns it to exactly one caller.
//
// Mutate applies fn to the current job record atomically; fn returning an
// error aborts the write. All state transitions go through Mutate so that
// invariants hold identically across backends.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	ClaimNext(ctx context.Context, now time.Time) (*model.Job, error)
	Mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
	Delete(ctx context.Context, id string) error
	ListExpiredTerminal(ctx context.Context, now time.Time) ([]string, error)
}

// claimOrder reports whether a should be claimed before b.
func claimOrder(a, b *model.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
