// Package render wraps the external render collaborator. The engine only
// consumes progress and a terminal result; encoding itself happens elsewhere.
package render

import (
	"context"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

// ProgressFunc receives progress callbacks from a running render. Callbacks
// may arrive out of order; the engine masks regressions.
type ProgressFunc func(pct int, step string)

// Renderer drives one export job to a terminal result. A nil error means
// success and a populated output. Failures should be tagged with
// model.TransientRenderError / model.FatalRenderError so the retry policy
// can classify them; cancellation is signalled through ctx.
type Renderer interface {
	Render(ctx context.Context, job *model.Job, report ProgressFunc) (*model.Output, error)
}
