// Package engine runs the export job lifecycle: claiming queued jobs under
// the configured concurrency, driving each through its state machine, and
// applying the retry policy on failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
	"github.com/lilseedabe/FlickMV-sub003/internal/policy"
	"github.com/lilseedabe/FlickMV-sub003/internal/render"
	"github.com/lilseedabe/FlickMV-sub003/internal/store"
)

// Events receives job state changes for fan-out to connected clients.
type Events interface {
	JobUpdated(job *model.Job)
}

// Engine owns the scheduler loop and all state transitions. At most
// WorkerSlots jobs are processing at once; a claimed job belongs to exactly
// one worker goroutine until it reaches queued-again or a terminal state.
type Engine struct {
	store    store.JobStore
	renderer render.Renderer
	events   Events
	log      *logrus.Logger

	slots         chan struct{}
	wake          chan struct{}
	pollInterval  time.Duration
	cancelTimeout time.Duration

	mu     sync.Mutex
	active map[string]*activeJob

	wg sync.WaitGroup
}

// activeJob tracks a worker currently holding a job, so Cancel can signal
// the renderer and wait for the worker to let go.
type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	WorkerSlots   int
	PollInterval  time.Duration
	CancelTimeout time.Duration
}

func New(s store.JobStore, r render.Renderer, events Events, log *logrus.Logger, opts Options) *Engine {
	if opts.WorkerSlots <= 0 {
		opts.WorkerSlots = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 5 * time.Second
	}
	return &Engine{
		store:         s,
		renderer:      r,
		events:        events,
		log:           log,
		slots:         make(chan struct{}, opts.WorkerSlots),
		wake:          make(chan struct{}, 1),
		pollInterval:  opts.PollInterval,
		cancelTimeout: opts.CancelTimeout,
		active:        make(map[string]*activeJob),
	}
}

// Run is the scheduler loop: take a worker slot, claim the best queued job,
// hand it to a worker goroutine. When nothing is queued it sleeps until a
// Wake or the poll interval, whichever comes first. Blocks until ctx is
// done and all workers have returned.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case e.slots <- struct{}{}:
		}

		job, err := e.store.ClaimNext(ctx, time.Now())
		if err != nil {
			<-e.slots
			if !errors.Is(err, store.ErrNoJob) {
				e.log.WithError(err).Error("claim failed")
			}
			select {
			case <-ctx.Done():
				e.wg.Wait()
				return
			case <-e.wake:
			case <-time.After(e.pollInterval):
			}
			continue
		}

		e.wg.Add(1)
		go e.execute(ctx, job)
	}
}

// Wake nudges the scheduler after an enqueue so it does not wait out the
// poll interval.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) execute(ctx context.Context, job *model.Job) {
	defer e.wg.Done()
	defer func() { <-e.slots }()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	e.mu.Lock()
	e.active[job.ID] = &activeJob{cancel: cancel, done: done}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, job.ID)
		e.mu.Unlock()
		close(done)
	}()

	e.log.WithFields(logrus.Fields{
		"jobId":     job.ID,
		"projectId": job.ProjectID,
		"priority":  job.Priority,
	}).Info("export started")
	e.notify(job)

	report := func(pct int, step string) {
		_, err := e.ReportProgress(context.Background(), job.ID, pct, step)
		if err == nil {
			return
		}
		if errors.Is(err, model.ErrInvalidTransition) {
			// The job left processing under us (cancelled); stop the render.
			cancel()
			return
		}
		e.log.WithError(err).WithField("jobId", job.ID).Warn("progress update failed")
	}

	output, err := e.renderer.Render(rctx, job, report)
	if err != nil {
		if rctx.Err() != nil {
			e.log.WithField("jobId", job.ID).Info("export aborted")
			return
		}
		e.fail(job.ID, err)
		return
	}
	e.complete(job.ID, output)
}

// ReportProgress records a progress callback. Percentages are clamped to
// [0,100]; values below the stored progress are ignored so out-of-order
// callbacks never regress the job. Reaching 100 completes the job in the
// same atomic write.
func (e *Engine) ReportProgress(ctx context.Context, id string, pct int, step string) (*model.Job, error) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	job, err := e.store.Mutate(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusProcessing {
			return fmt.Errorf("%w: progress on %s job", model.ErrInvalidTransition, j.Status)
		}
		if pct < j.Progress {
			return nil
		}
		j.Progress = pct
		j.CurrentStep = step
		if pct >= 100 {
			finalize(j, model.JobStatusCompleted, time.Now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.notify(job)
	return job, nil
}

// complete marks a job completed and attaches its output. When a progress
// callback already drove the job to completed, only the output is filled in.
func (e *Engine) complete(id string, output *model.Output) {
	job, err := e.store.Mutate(context.Background(), id, func(j *model.Job) error {
		switch j.Status {
		case model.JobStatusProcessing:
			j.Progress = 100
			j.Output = output
			finalize(j, model.JobStatusCompleted, time.Now())
			return nil
		case model.JobStatusCompleted:
			if j.Output == nil {
				j.Output = output
			}
			return nil
		default:
			return fmt.Errorf("%w: complete on %s job", model.ErrInvalidTransition, j.Status)
		}
	})
	if err != nil {
		e.log.WithError(err).WithField("jobId", id).Warn("completion dropped")
		return
	}
	e.log.WithFields(logrus.Fields{
		"jobId":          id,
		"processingTime": job.ProcessingTime,
	}).Info("export completed")
	e.notify(job)
}

// fail applies the retry policy: requeue with a reset record, or finalize
// as failed with the terminal error payload.
func (e *Engine) fail(id string, cause error) {
	job, err := e.store.Mutate(context.Background(), id, func(j *model.Job) error {
		if j.Status != model.JobStatusProcessing {
			return fmt.Errorf("%w: fail on %s job", model.ErrInvalidTransition, j.Status)
		}
		decision := policy.Decide(j, cause)
		j.RetryCount = decision.NextRetryCount
		if decision.Retry {
			requeue(j)
			return nil
		}
		j.Error = model.JobErrorFrom(cause)
		finalize(j, model.JobStatusFailed, time.Now())
		return nil
	})
	if err != nil {
		e.log.WithError(err).WithField("jobId", id).Warn("failure dropped")
		return
	}

	if job.Status == model.JobStatusQueued {
		e.log.WithFields(logrus.Fields{
			"jobId":      id,
			"retryCount": job.RetryCount,
		}).WithError(cause).Warn("export requeued after transient failure")
		e.Wake()
	} else {
		e.log.WithFields(logrus.Fields{
			"jobId":      id,
			"retryCount": job.RetryCount,
		}).WithError(cause).Error("export failed")
	}
	e.notify(job)
}

// Cancel stops a queued or processing job. A processing job's renderer is
// signalled and given cancelTimeout to stop; the job is marked cancelled
// regardless, and any output the renderer still produces is discarded.
// Terminal jobs yield Conflict.
func (e *Engine) Cancel(ctx context.Context, id string) (*model.Job, error) {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return nil, fmt.Errorf("%w: job already %s", model.ErrConflict, current.Status)
	}

	e.mu.Lock()
	a := e.active[id]
	e.mu.Unlock()
	if a != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-time.After(e.cancelTimeout):
			e.log.WithField("jobId", id).Warn("renderer did not stop within cancel timeout")
		case <-ctx.Done():
		}
	}

	job, err := e.store.Mutate(ctx, id, func(j *model.Job) error {
		switch j.Status {
		case model.JobStatusQueued, model.JobStatusProcessing:
			finalize(j, model.JobStatusCancelled, time.Now())
			return nil
		case model.JobStatusCancelled:
			return nil
		default:
			return fmt.Errorf("%w: job already %s", model.ErrConflict, j.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	e.log.WithField("jobId", id).Info("export cancelled")
	e.notify(job)
	return job, nil
}

// Retry is the user-initiated retry of a failed job. It is the one operation
// allowed to mutate a terminal record, and it still respects the retry cap.
func (e *Engine) Retry(ctx context.Context, id string) (*model.Job, error) {
	job, err := e.store.Mutate(ctx, id, func(j *model.Job) error {
		if j.Status != model.JobStatusFailed {
			return fmt.Errorf("%w: retry requires a failed job, got %s", model.ErrConflict, j.Status)
		}
		if j.RetryCount >= j.MaxRetries {
			return fmt.Errorf("%w: retry limit reached (%d/%d)", model.ErrConflict, j.RetryCount, j.MaxRetries)
		}
		j.RetryCount++
		requeue(j)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"jobId":      id,
		"retryCount": job.RetryCount,
	}).Info("export retried")
	e.Wake()
	e.notify(job)
	return job, nil
}

func (e *Engine) notify(job *model.Job) {
	if e.events != nil {
		e.events.JobUpdated(job)
	}
}

// requeue resets a job for another attempt. retryCount is the caller's to
// set; everything else goes back to the queued baseline.
func requeue(j *model.Job) {
	j.Status = model.JobStatusQueued
	j.Progress = 0
	j.CurrentStep = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ProcessingTime = 0
	j.Error = nil
}

// finalize stamps a terminal transition. processingTime is recorded only
// for completed jobs with a known start.
func finalize(j *model.Job, status model.JobStatus, now time.Time) {
	j.Status = status
	j.CompletedAt = &now
	if status == model.JobStatusCompleted && j.StartedAt != nil {
		j.ProcessingTime = now.Sub(*j.StartedAt).Seconds()
	}
}
