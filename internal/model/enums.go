package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal jobs accept no
// further lifecycle mutation except the download counter and reaping.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Render error kinds, supplied by the worker when the render collaborator
// fails. The retry policy never infers a kind on its own.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindFatal     ErrorKind = "fatal"
)

// DefaultMaxRetries is applied when a submission does not set a cap.
const DefaultMaxRetries = 3
