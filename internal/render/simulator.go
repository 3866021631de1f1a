package render

import (
	"context"
	"fmt"
	"time"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// Simulator is the development renderer used when no render service is
// configured. It walks a fixed step sequence and fabricates an output.
type Simulator struct {
	// StepDelay is how long each step takes. Zero renders instantly.
	StepDelay time.Duration
}

func NewSimulator(stepDelay time.Duration) *Simulator {
	return &Simulator{StepDelay: stepDelay}
}

func (s *Simulator) Render(ctx context.Context, job *model.Job, report ProgressFunc) (*model.Output, error) {
	steps := []struct {
		progress int
		step     string
	}{
		{5, "Preparing timeline"},
		{15, "Decoding source media"},
		{40, "Compositing clips"},
		{65, "Rendering effects"},
		{85, "Encoding output"},
		{95, "Finalizing"},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		report(step.progress, step.step)

		if s.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.StepDelay):
			}
		}
	}

	key := fmt.Sprintf("exports/%s/%s.mp4", job.ProjectID, job.ID)
	return &model.Output{
		URL:      "https://cdn.flickmv.dev/" + key,
		Key:      key,
		Size:     48 * 1024 * 1024,
		Duration: 30,
	}, nil
}
