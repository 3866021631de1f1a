package policy

import (
	"errors"
	"testing"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

func TestDecide(t *testing.T) {
	transient := model.TransientRenderError("ENCODER_BUSY", "encoder pool exhausted")
	fatal := model.FatalRenderError("BAD_SETTINGS", "unsupported codec")

	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		err        error
		wantRetry  bool
		wantNext   int
	}{
		{"first transient failure retries", 0, 3, transient, true, 1},
		{"second transient failure retries", 1, 3, transient, true, 2},
		{"third transient failure exhausts", 2, 3, transient, false, 3},
		{"fatal never retries", 0, 3, fatal, false, 1},
		{"unclassified counts as fatal", 1, 3, errors.New("disk on fire"), false, 2},
		{"counter never exceeds the cap", 3, 3, transient, false, 3},
		{"single-attempt cap fails immediately", 0, 1, transient, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &model.Job{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			d := Decide(job, tt.err)
			if d.Retry != tt.wantRetry {
				t.Errorf("Retry = %v, want %v", d.Retry, tt.wantRetry)
			}
			if d.NextRetryCount != tt.wantNext {
				t.Errorf("NextRetryCount = %d, want %d", d.NextRetryCount, tt.wantNext)
			}
		})
	}
}
