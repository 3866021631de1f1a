package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/client"
	"github.com/lilseedabe/FlickMV-sub003/internal/store"
)

// Reaper deletes expired terminal jobs on a cron schedule, along with their
// stored output artifacts. Queued and processing jobs are never touched,
// whatever their expiresAt says.
type Reaper struct {
	store    store.JobStore
	storage  client.ArtifactStorage
	log      *logrus.Logger
	schedule string
	cron     *cron.Cron
}

func NewReaper(s store.JobStore, storage client.ArtifactStorage, log *logrus.Logger, schedule string) *Reaper {
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Reaper{store: s, storage: storage, log: log, schedule: schedule}
}

// Start registers the sweep on the schedule and begins running it.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.SweepOnce(context.Background()); err != nil {
			r.log.WithError(err).Error("reaper sweep failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule; a running sweep finishes.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// SweepOnce deletes every terminal job whose expiresAt has passed, removing
// its output artifact first. Returns the number of jobs deleted. Artifact
// deletion is best-effort; the job record goes regardless.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := r.store.ListExpiredTerminal(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		r.deleteArtifact(ctx, id)
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.WithError(err).WithField("jobId", id).Warn("reap delete failed")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		r.log.WithField("deleted", deleted).Info("reaped expired exports")
	}
	return deleted, nil
}

func (r *Reaper) deleteArtifact(ctx context.Context, id string) {
	if r.storage == nil {
		return
	}
	job, err := r.store.Get(ctx, id)
	if err != nil || job.Output == nil || job.Output.Key == "" {
		return
	}
	if err := r.storage.DeleteArtifact(ctx, job.Output.Key); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"jobId": id,
			"key":   job.Output.Key,
		}).Warn("artifact delete failed")
	}
}
