// Package report fans finished job runs out to persistence, metrics and the
// notifier.
package report

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dandantas/boarding/internal/metrics"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/notify"
	"github.com/dandantas/boarding/internal/store"
)

// Recorder persists one run summary
type Recorder interface {
	Record(ctx context.Context, run *model.JobRun) error
}

// StoreRecorder writes runs to the row store
type StoreRecorder struct {
	runs store.RunStore
}

// NewStoreRecorder creates a recorder backed by runs
func NewStoreRecorder(runs store.RunStore) *StoreRecorder {
	return &StoreRecorder{runs: runs}
}

func (r *StoreRecorder) Record(ctx context.Context, run *model.JobRun) error {
	return r.runs.RecordRun(ctx, run)
}

// Multi records to every recorder and joins the errors
type Multi []Recorder

func (m Multi) Record(ctx context.Context, run *model.JobRun) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher is the single exit point for run summaries
type Publisher struct {
	recorder Recorder
	metrics  *metrics.Recorder
	notifier notify.Notifier
}

// NewPublisher wires the sinks; any of them may be nil
func NewPublisher(recorder Recorder, m *metrics.Recorder, n notify.Notifier) *Publisher {
	if n == nil {
		n = notify.Nop{}
	}
	return &Publisher{recorder: recorder, metrics: m, notifier: n}
}

// Publish records the run everywhere. Persistence failures are logged, never
// returned: a run has already happened by the time it is reported.
func (p *Publisher) Publish(ctx context.Context, run *model.JobRun) {
	if p == nil || run == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, run); err != nil {
			slog.Error("Failed to record job run",
				"job", run.Job,
				"run_id", run.RunID,
				"error", err,
			)
		}
	}
	p.metrics.RecordRun(ctx, run)

	if Notable(run) {
		p.notifier.Notify(ctx, notify.RunEvent(run))
	}
}

// Notable reports whether a run is worth a notification: failures, boardings
// and overcapacity sweeps that evicted someone or hit an error.
func Notable(run *model.JobRun) bool {
	switch {
	case run.Outcome == model.OutcomeFailed:
		return true
	case run.Job == model.JobFulfillment:
		return run.Outcome == model.OutcomeCompleted
	case run.Job == model.JobOvercapacity:
		if run.Counters["evicted"] > 0 || run.Counters["failures"] > 0 {
			return true
		}
	case run.Job == model.JobOrderExpiry:
		return run.Counters["failures"] > 0
	}
	return false
}
