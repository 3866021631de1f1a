package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/client"
	"github.com/lilseedabe/FlickMV-sub003/internal/engine"
	"github.com/lilseedabe/FlickMV-sub003/internal/model"
	"github.com/lilseedabe/FlickMV-sub003/internal/store"
)

// downloadURLExpiry bounds presigned download links.
const downloadURLExpiry = 15 * time.Minute

// ExportService is the API-facing orchestration over the store and engine:
// submissions enter the queue here, reads decorate the record with computed
// fields, and lifecycle commands are forwarded to the engine.
type ExportService struct {
	store      store.JobStore
	engine     *engine.Engine
	storage    client.ArtifactStorage
	log        *logrus.Logger
	maxRetries int
	retention  time.Duration
}

func NewExportService(s store.JobStore, e *engine.Engine, storage client.ArtifactStorage, log *logrus.Logger, maxRetries, retentionDays int) *ExportService {
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &ExportService{
		store:      s,
		engine:     e,
		storage:    storage,
		log:        log,
		maxRetries: maxRetries,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Create queues a new export job and wakes the scheduler.
func (s *ExportService) Create(ctx context.Context, ownerID string, req *model.CreateExportRequest) (*model.CreateExportResponse, error) {
	now := time.Now()

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		ProjectID:  req.ProjectID,
		Name:       req.Name,
		Settings:   req.Settings,
		Status:     model.JobStatusQueued,
		Priority:   priority,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.retention),
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"jobId":     job.ID,
		"projectId": job.ProjectID,
		"priority":  job.Priority,
	}).Info("export queued")
	s.engine.Wake()

	return &model.CreateExportResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.ExpiresAt,
	}, nil
}

// Status returns the job record plus the computed ETA and presentation
// fields. The ETA is recomputed on every read, never stored.
func (s *ExportService) Status(ctx context.Context, jobID string) (*model.ExportStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.ExportStatusResponse{
		Job: *job,
		ETA: job.ETA(time.Now()),
	}
	if job.ProcessingTime > 0 {
		resp.FormattedProcessingTime = model.FormatDuration(job.ProcessingTime)
	}
	if job.Output != nil {
		resp.FormattedOutputSize = model.FormatBytes(job.Output.Size)
	}
	return resp, nil
}

// Cancel stops a queued or processing job. Conflict when already terminal.
func (s *ExportService) Cancel(ctx context.Context, jobID string) (*model.ExportCancelResponse, error) {
	job, err := s.engine.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.ExportCancelResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	}, nil
}

// Retry requeues a failed job on the user's request, within the retry cap.
func (s *ExportService) Retry(ctx context.Context, jobID string) (*model.ExportRetryResponse, error) {
	job, err := s.engine.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.ExportRetryResponse{
		Success:    true,
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
	}, nil
}

// DownloadURL resolves where to send the client for the finished artifact
// and bumps the download counter. The counter is the one mutation permitted
// on a terminal job besides reaping.
func (s *ExportService) DownloadURL(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.Mutate(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusCompleted || j.Output == nil {
			return fmt.Errorf("%w: export not completed", model.ErrConflict)
		}
		j.DownloadCount++
		return nil
	})
	if err != nil {
		return "", err
	}

	if s.storage != nil && job.Output.Key != "" {
		url, err := s.storage.SignedDownloadURL(ctx, job.Output.Key, downloadURLExpiry)
		if err == nil {
			return url, nil
		}
		s.log.WithError(err).WithField("jobId", jobID).Warn("presign failed, falling back")
		if job.Output.URL == "" {
			return s.storage.PublicURL(job.Output.Key), nil
		}
	}
	return job.Output.URL, nil
}
