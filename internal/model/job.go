package model

import (
	"encoding/json"
	"time"
)

// Job represents one export request and its tracked lifecycle.
type Job struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name,omitempty"`

	// Settings is the export configuration blob (resolution, codec, quality,
	// watermark). It is validated upstream and passed through opaquely.
	Settings json.RawMessage `json:"settings,omitempty"`

	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Priority    int       `json:"priority"`
	CurrentStep string    `json:"currentStep,omitempty"`

	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	Error      *JobError `json:"error,omitempty"`

	Output *Output `json:"output,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// ProcessingTime is completedAt - startedAt in seconds, set on completion.
	ProcessingTime float64 `json:"processingTime,omitempty"`

	ExpiresAt     time.Time `json:"expiresAt"`
	DownloadCount int       `json:"downloadCount"`
}

// JobError is the terminal error payload surfaced to clients.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output describes the rendered artifact of a completed job.
type Output struct {
	URL      string  `json:"url"`
	Key      string  `json:"key,omitempty"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration,omitempty"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// ETA extrapolates the completion time linearly from progress so far.
// It is an approximation, recomputed on each read and never stored.
// Returns nil unless the job is processing with nonzero progress.
func (j *Job) ETA(now time.Time) *time.Time {
	if j.Status != JobStatusProcessing || j.Progress <= 0 || j.StartedAt == nil {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt)
	total := time.Duration(float64(elapsed) * 100 / float64(j.Progress))
	eta := j.StartedAt.Add(total)
	return &eta
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.Settings != nil {
		c.Settings = append(json.RawMessage(nil), j.Settings...)
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Output != nil {
		o := *j.Output
		c.Output = &o
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
