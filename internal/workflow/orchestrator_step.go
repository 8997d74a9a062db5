package workflow

import (
	"context"
	"fmt"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
)

const snapshotTextLimit = 500

// tracksStepRun reports whether step records a step run. Fetch and filter
// are recorded through transitions and the payload only.
func tracksStepRun(step status.Step) bool {
	switch step {
	case status.StepSummarize, status.StepTag, status.StepThumbnail:
		return true
	default:
		return false
	}
}

// runStep executes one step. A nil Outcome with a nil error means the item
// now rests on the next step's ready status.
func (o *Orchestrator) runStep(ctx context.Context, p *pipeline, step status.Step) (*Outcome, error) {
	ctx = services.WithStage(ctx, string(step))
	logger := logging.WithContext(ctx, o.logger)
	working := status.WorkingFor(step)

	item, err := o.store.Transition(ctx, p.item.ID, working, p.opts.Actor, queue.TransitionOptions{
		ExpectStatus: status.ReadyFor(step),
		Manual:       p.manualTrigger(),
	})
	if err != nil {
		return nil, fmt.Errorf("enter %s: %w", working, err)
	}
	p.item = item

	var stepRunID int64
	if tracksStepRun(step) {
		stepRunID, err = o.runs.StartStep(ctx, p.run.ID, step, stepSnapshot(item, p.manual()))
		if err != nil {
			return nil, fmt.Errorf("start %s step run: %w", step, err)
		}
		ctx = services.WithStepRunID(ctx, stepRunID)
		logger = logging.WithContext(ctx, o.logger)
	}

	stepStart := time.Now()
	logger.Info("stage started",
		logging.Event("stage_start"),
		logging.String("processing_status", string(working)),
		logging.Int("attempts", item.Attempts),
	)

	handler := o.steps.For(step)
	var result stage.Result
	if handler == nil {
		err = services.Wrap(services.ErrConfiguration, string(step), "run", "no handler configured", nil)
	} else {
		result, err = handler.Run(ctx, stage.Input{
			ItemID:    item.ID,
			RunID:     p.run.ID,
			StepRunID: stepRunID,
			Item:      *item,
			Manual:    p.manual(),
		})
	}
	if err != nil {
		return o.handleStepFailure(ctx, p, step, stepRunID, err)
	}
	return o.completeStep(ctx, p, step, stepRunID, result, stepStart)
}

// completeStep merges the step result and moves the item on.
func (o *Orchestrator) completeStep(ctx context.Context, p *pipeline, step status.Step, stepRunID int64, result stage.Result, stepStart time.Time) (*Outcome, error) {
	logger := logging.WithContext(ctx, o.logger)

	patch := make(map[string]any, len(result.Patch)+1)
	for key, value := range result.Patch {
		patch[key] = value
	}
	fields := result.Fields

	if result.Verdict != nil {
		verdict := *result.Verdict
		if !verdict.Accepted && p.manual() {
			verdict.Overridden = true
		}
		patch["filter"] = verdict
		if !verdict.Accepted && !verdict.Overridden {
			return o.rejectIrrelevant(ctx, p, verdict, patch, fields)
		}
		if verdict.Overridden {
			attrs := logging.DecisionAttrs("relevance_override", "continued", verdict.Reason)
			attrs = append(attrs, logging.Int("score", verdict.Score))
			logger.Info("negative relevance verdict overridden by manual submission", logging.Args(attrs...)...)
		}
	}

	if stepRunID != 0 {
		if err := o.runs.CompleteStep(ctx, stepRunID, result.Record); err != nil {
			return nil, fmt.Errorf("complete %s step run: %w", step, err)
		}
	}

	next := o.nextStep(p, step)
	target := status.ReadyFor(next)
	if next == status.StepNone {
		target = p.finalStatus(step)
	}
	if p.item.Attempts > 0 {
		fields.Attempts = queue.Ptr(0)
	}
	if len(patch) > 0 {
		fields.Payload = patch
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

	logger.Info("stage completed",
		logging.Event("stage_complete"),
		logging.String("next_status", string(target)),
		logging.Duration("stage_duration", time.Since(stepStart)),
	)
	if next != status.StepNone {
		return nil, nil
	}
	return o.succeed(ctx, p)
}

// finishSkipped ends a run whose remaining step the caller opted out of.
func (o *Orchestrator) finishSkipped(ctx context.Context, p *pipeline, step status.Step) (Outcome, error) {
	logging.WithContext(ctx, o.logger).Info("step skipped by caller",
		logging.String(logging.FieldStage, string(step)),
		logging.Event("stage_skipped"),
	)
	fields := queue.FieldChanges{}
	if p.item.Attempts > 0 {
		fields.Attempts = queue.Ptr(0)
	}
	target := p.finalStatus(step)
	item, err := o.store.Transition(ctx, p.item.ID, target, p.opts.Actor, queue.TransitionOptions{
		Fields:       fields,
		ExpectStatus: p.item.Status,
		Manual:       p.manualTrigger(),
	})
	if err != nil {
		return p.outcome(ResultAborted, err.Error()), fmt.Errorf("finish without %s: %w", step, err)
	}
	p.item = item
	done, err := o.succeed(ctx, p)
	return *done, err
}

func (o *Orchestrator) succeed(ctx context.Context, p *pipeline) (*Outcome, error) {
	o.finalize(ctx, p, tracker.Completed())
	logging.WithContext(ctx, o.logger).Info("item enriched",
		logging.Event("item_enriched"),
		logging.String("final_status", string(p.item.Status)),
	)
	out := p.outcome(ResultCompleted, "")
	return &out, nil
}

// rejectIrrelevant ends the run on a negative relevance verdict. The run
// completes normally; rejection is an expected branch.
func (o *Orchestrator) rejectIrrelevant(ctx context.Context, p *pipeline, verdict queue.FilterVerdict, patch map[string]any, fields queue.FieldChanges) (*Outcome, error) {
	fields.Payload = patch
	fields.RejectionReason = queue.Ptr(verdict.Reason)
	item, err := o.store.Transition(ctx, p.item.ID, status.Irrelevant, p.opts.Actor, queue.TransitionOptions{
		Fields:       fields,
		ExpectStatus: status.Filtering,
		Manual:       p.manualTrigger(),
	})
	if err != nil {
		return nil, fmt.Errorf("mark irrelevant: %w", err)
	}
	p.item = item

	attrs := logging.DecisionAttrs("relevance", "irrelevant", verdict.Reason)
	attrs = append(attrs,
		logging.Int("score", verdict.Score),
		logging.String("method", verdict.Method),
		logging.Event("item_rejected"),
	)
	logging.WithContext(ctx, o.logger).Info("item judged irrelevant", logging.Args(attrs...)...)

	o.finalize(ctx, p, tracker.Completed())
	out := p.outcome(ResultRejected, verdict.Reason)
	return &out, nil
}

func stepSnapshot(item *queue.Item, manual bool) map[string]any {
	payload := item.Payload
	payload.Text = stage.Truncate(payload.Text, snapshotTextLimit)
	return map[string]any{
		"status":   string(item.Status),
		"attempts": item.Attempts,
		"manual":   manual,
		"payload":  payload,
	}
}
