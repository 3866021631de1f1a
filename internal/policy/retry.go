// Package policy decides, on worker failure, whether a job goes back to the
// queue or fails for good. Pure functions only; the store and worker apply
// the outcome.
package policy

import (
	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	Retry bool
	// NextRetryCount is the retry counter after this failure, never above
	// the job's cap.
	NextRetryCount int
}

// Decide returns retry only when the error is tagged transient and the
// attempt after this one still fits under maxRetries. The classification
// comes from the worker's error kind; unclassified errors count as fatal.
//
// With maxRetries=3: two transient failures leave the job queued with
// retryCount=2, a third ends it failed with retryCount=3.
func Decide(job *model.Job, err error) Decision {
	next := job.RetryCount + 1
	if next > job.MaxRetries {
		next = job.MaxRetries
	}

	if model.KindOf(err) != model.ErrorKindTransient {
		return Decision{Retry: false, NextRetryCount: next}
	}
	if job.RetryCount+1 >= job.MaxRetries {
		return Decision{Retry: false, NextRetryCount: next}
	}
	return Decision{Retry: true, NextRetryCount: next}
}
