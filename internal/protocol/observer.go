package protocol

import (
	"context"

	"github.com/jmylchreest/vertd/internal/conversion"
	"github.com/jmylchreest/vertd/internal/converter"
	"github.com/jmylchreest/vertd/internal/models"
)

// Result describes how a started job resolved.
type Result struct {
	// Job is the final registry copy, or the last known copy if the
	// entry had already been removed.
	Job     *models.Job
	Speed   converter.Speed
	Outcome conversion.Outcome
	// Logs are the encoder diagnostics collected while converting.
	Logs []string
	// Err is set when the encoder could not be started.
	Err error
}

// Observer is told about lifecycle changes of jobs driven by a session.
// Implementations must return promptly; the session waits for them.
type Observer interface {
	JobStarted(ctx context.Context, job *models.Job)
	JobResolved(ctx context.Context, res Result)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) JobStarted(context.Context, *models.Job) {}
func (NoopObserver) JobResolved(context.Context, Result)     {}

// Observers fans events out to each observer in order.
type Observers []Observer

func (o Observers) JobStarted(ctx context.Context, job *models.Job) {
	for _, obs := range o {
		obs.JobStarted(ctx, job)
	}
}

func (o Observers) JobResolved(ctx context.Context, res Result) {
	for _, obs := range o {
		obs.JobResolved(ctx, res)
	}
}
