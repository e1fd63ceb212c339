package openlineage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Outcome is what a tracked job reports on success.
type Outcome struct {
	Outputs []OutputDataset
}

// Tracker wraps units of work in START and COMPLETE or FAIL events.
type Tracker struct {
	client *Client
	logger *slog.Logger
}

// NewTracker creates a Tracker emitting through client.
func NewTracker(client *Client, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{client: client, logger: logger}
}

// Track runs fn between a START and a COMPLETE or FAIL event and returns the
// run id with fn's error. A panic in fn is reported as a FAIL and returned as
// an error. Emission failures are logged only.
func (t *Tracker) Track(ctx context.Context, job JobInfo, fn func(ctx context.Context) (*Outcome, error)) (runID string, err error) {
	runID = t.client.NewRunID()
	t.emit(ctx, t.client.StartEvent(runID, job))

	var (
		outcome *Outcome
		stack   string
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", job.Name, r)
				stack = string(debug.Stack())
			}
		}()
		outcome, err = fn(ctx)
		if err != nil {
			stack = string(debug.Stack())
		}
	}()

	if err != nil {
		t.emit(ctx, t.client.FailEvent(runID, job, err, stack))
		return runID, err
	}

	var outputs []OutputDataset
	if outcome != nil {
		outputs = outcome.Outputs
	}
	t.emit(ctx, t.client.CompleteEvent(runID, job, outputs))
	return runID, nil
}

func (t *Tracker) emit(ctx context.Context, ev *RunEvent) {
	if err := t.client.Emit(context.WithoutCancel(ctx), ev); err != nil {
		t.logger.Warn("failed to emit openlineage event",
			slog.String("type", string(ev.EventType)),
			slog.String("job", ev.Job.Name),
			slog.String("error", err.Error()))
	}
}
