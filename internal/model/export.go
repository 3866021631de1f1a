package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateExportRequest is the submission payload. Settings content is schema
// validated upstream; only the envelope is checked here.
type CreateExportRequest struct {
	ProjectID string          `json:"projectId" validate:"required"`
	Name      string          `json:"name" validate:"omitempty,max=200"`
	Settings  json.RawMessage `json:"settings" validate:"required"`
	Priority  *int            `json:"priority" validate:"omitempty,min=-1000,max=1000"`
}

// CreateExportResponse acknowledges a queued export.
type CreateExportResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportStatusResponse is the full job record plus computed presentation
// fields returned by the status endpoint.
type ExportStatusResponse struct {
	Job
	ETA                     *time.Time `json:"eta,omitempty"`
	FormattedProcessingTime string     `json:"formattedProcessingTime,omitempty"`
	FormattedOutputSize     string     `json:"formattedOutputSize,omitempty"`
}

// ExportCancelResponse acknowledges a cancellation.
type ExportCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// ExportRetryResponse acknowledges a manual retry.
type ExportRetryResponse struct {
	Success    bool      `json:"success"`
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	RetryCount int       `json:"retryCount"`
}

// FormatDuration renders a second count as "1h 2m 3s".
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(size int64) string {
	if size <= 0 {
		return ""
	}
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
