package workflow

import (
	"context"
	"fmt"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
)

// handleStepFailure applies the retry and escalation policy to a failed
// step. The item is in the step's working status on entry.
func (o *Orchestrator) handleStepFailure(ctx context.Context, p *pipeline, step status.Step, stepRunID int64, stepErr error) (*Outcome, error) {
	logger := logging.WithContext(ctx, o.logger)

	if ctx.Err() != nil {
		return o.interrupt(ctx, p, step, stepRunID, stepErr)
	}

	if stepRunID != 0 {
		if err := o.runs.FailStep(ctx, stepRunID, stepErr); err != nil {
			logging.WarnWithContext(logger, "failed to record step run failure", "step_run_update_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "step run is closed when the pipeline run is finalized"),
			)
		}
	}

	class := services.Classify(stepErr)
	switch {
	case class == services.ClassFatal:
		return o.reject(ctx, p, step, stepErr)
	case step == status.StepThumbnail:
		logging.WarnWithContext(logger, "thumbnail failed; continuing without one", "thumbnail_skipped",
			logging.Error(stepErr),
			logging.String("error_class", string(class)),
			logging.String(logging.FieldImpact, "item reaches review without a thumbnail"),
			logging.String(logging.FieldErrorHint, "check the render service"),
		)
		return o.finishFromWorking(ctx, p, step)
	case class == services.ClassPermanent:
		attempts := p.item.Attempts + 1
		return o.fail(ctx, p, step, attempts, fmt.Sprintf("%s failed: %s", step, errorMessage(stepErr)), stepErr)
	}

	attempts := p.item.Attempts + 1
	if attempts < o.maxAttempts {
		return o.retryLater(ctx, p, step, attempts, stepErr)
	}
	reason := fmt.Sprintf("%s failed after %d attempts: %s", step, attempts, errorMessage(stepErr))
	return o.fail(ctx, p, step, attempts, reason, stepErr)
}

// retryLater returns the item to the step's ready status with the attempt
// counter bumped; a later batch runs the same step again.
func (o *Orchestrator) retryLater(ctx context.Context, p *pipeline, step status.Step, attempts int, stepErr error) (*Outcome, error) {
	item, err := o.store.Transition(ctx, p.item.ID, status.ReadyFor(step), p.opts.Actor, queue.TransitionOptions{
		Fields:       queue.FieldChanges{Attempts: queue.Ptr(attempts)},
		ExpectStatus: status.WorkingFor(step),
	})
	if err != nil {
		return nil, fmt.Errorf("record %s retry: %w", step, err)
	}
	p.item = item

	details := []logging.Attr{
		logging.Error(stepErr),
		logging.Int("attempts", attempts),
		logging.Int("max_attempts", o.maxAttempts),
		logging.String(logging.FieldImpact, "step is retried by a later batch"),
	}
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "stage failed; will retry", "stage_failure", details...)

	o.finalize(ctx, p, tracker.Failed(stepErr))
	out := p.outcome(ResultRetry, errorMessage(stepErr))
	return &out, nil
}

// fail moves the item to failed and marks the failure permanent.
func (o *Orchestrator) fail(ctx context.Context, p *pipeline, step status.Step, attempts int, reason string, stepErr error) (*Outcome, error) {
	failedAt := o.now().UTC()
	item, err := o.store.Transition(ctx, p.item.ID, status.Failed, p.opts.Actor, queue.TransitionOptions{
		Fields: queue.FieldChanges{
			Attempts:         queue.Ptr(attempts),
			RejectionReason:  queue.Ptr(reason),
			PermanentFailure: queue.Ptr(true),
			FailedAt:         &failedAt,
		},
		ExpectStatus: status.WorkingFor(step),
	})
	if err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	p.item = item

	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "item failed", "item_failed",
		logging.Error(stepErr),
		logging.Alert("item_failed"),
		logging.String("reason", reason),
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorHint, "inspect the item and run `gleaner queue retry` once the cause is fixed"),
	)

	o.finalize(ctx, p, tracker.Failed(stepErr))
	out := p.outcome(ResultFailed, reason)
	return &out, nil
}

// reject escalates a fatal step error: the item is rejected regardless of
// its attempt count and the error is returned to the caller.
func (o *Orchestrator) reject(ctx context.Context, p *pipeline, step status.Step, stepErr error) (*Outcome, error) {
	reason := errorMessage(stepErr)
	item, err := o.store.Transition(ctx, p.item.ID, status.Rejected, p.opts.Actor, queue.TransitionOptions{
		Fields:       queue.FieldChanges{RejectionReason: queue.Ptr(reason)},
		ExpectStatus: status.WorkingFor(step),
	})
	if err != nil {
		return nil, fmt.Errorf("mark rejected: %w", err)
	}
	p.item = item

	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "item rejected by fatal step error", "item_rejected",
		logging.Error(stepErr),
		logging.Alert("fatal_step_error"),
		logging.String(logging.FieldErrorHint, "fix the item's source data before re-enriching"),
	)

	o.finalize(ctx, p, tracker.Failed(stepErr))
	out := p.outcome(ResultRejected, reason)
	return &out, stepErr
}

// finishFromWorking ends a run whose last step failed in a way the pipeline
// tolerates.
func (o *Orchestrator) finishFromWorking(ctx context.Context, p *pipeline, step status.Step) (*Outcome, error) {
	fields := queue.FieldChanges{}
	if p.item.Attempts > 0 {
		fields.Attempts = queue.Ptr(0)
	}
	target := status.ReadyFor(o.nextStep(p, step))
	if target == "" {
		target = p.finalStatus(step)
	}
	item, err := o.store.Transition(ctx, p.item.ID, target, p.opts.Actor, queue.TransitionOptions{
		Fields:       fields,
		ExpectStatus: status.WorkingFor(step),
		Manual:       p.manualTrigger(),
	})
	if err != nil {
		return nil, fmt.Errorf("leave %s: %w", step, err)
	}
	p.item = item
	return o.succeed(ctx, p)
}

// interrupt handles a run cancelled by shutdown or a lost lease. The item
// goes back to the step's ready status without spending an attempt.
func (o *Orchestrator) interrupt(ctx context.Context, p *pipeline, step status.Step, stepRunID int64, stepErr error) (*Outcome, error) {
	cleanup := context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, o.logger)
	if stepRunID != 0 {
		if err := o.runs.FailStep(cleanup, stepRunID, stepErr); err != nil {
			logger.Debug("could not record interrupted step run", logging.Error(err))
		}
	}
	item, err := o.store.Transition(cleanup, p.item.ID, status.ReadyFor(step), p.opts.Actor, queue.TransitionOptions{
		ExpectStatus: status.WorkingFor(step),
	})
	if err != nil {
		logging.WarnWithContext(logger, "could not park interrupted item", "interrupt_park_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the sweeper resets the item once its lease expires"),
		)
	} else {
		p.item = item
	}
	logger.Info("run interrupted", logging.Event("run_interrupted"), logging.Error(stepErr))
	o.finalize(ctx, p, tracker.Failed(fmt.Errorf("interrupted: %w", ctx.Err())))
	out := p.outcome(ResultAborted, "interrupted")
	return &out, ctx.Err()
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}
