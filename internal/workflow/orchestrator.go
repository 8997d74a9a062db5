package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gleaner/internal/config"
	"gleaner/internal/lease"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
)

var (
	// ErrNotResumable is returned when the item's status has no resume point
	// and the caller did not name a step to start from.
	ErrNotResumable = errors.New("item has no resume point")
	// ErrInvalidReturnStatus rejects return statuses an item cannot land in
	// after a step.
	ErrInvalidReturnStatus = errors.New("invalid return status")
)

// ResumeContext carries the caller's routing instructions for one run. It is
// never persisted with the item.
type ResumeContext struct {
	// StartAt names the first step. Empty resumes from the item's status.
	StartAt status.Step
	// SingleStep stops after the first step.
	SingleStep bool
	// ReturnStatus is where the item lands on success instead of pending_review.
	ReturnStatus status.Status
	// ManualOverride treats the item as human-submitted for the relevance decision.
	ManualOverride bool
}

// Options configures one EnrichItem call.
type Options struct {
	Trigger       tracker.Trigger
	Actor         string
	Resume        ResumeContext
	SkipThumbnail bool
}

// Result summarizes how a run ended.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultRejected  Result = "rejected"
	ResultFailed    Result = "failed"
	ResultRetry     Result = "retry"
	ResultAborted   Result = "aborted"
)

// Outcome is the per-item report returned to triggers.
type Outcome struct {
	ItemID   int64         `json:"item_id"`
	RunID    int64         `json:"run_id,omitempty"`
	Status   status.Status `json:"status"`
	Result   Result        `json:"result"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
}

// Orchestrator drives one item through the enrichment steps.
type Orchestrator struct {
	store         *queue.Store
	runs          *tracker.Tracker
	steps         stage.Set
	leases        lease.Backend
	heartbeat     *HeartbeatMonitor
	logger        *slog.Logger
	holder        string
	leaseTTL      time.Duration
	maxAttempts   int
	skipThumbnail bool
	now           func() time.Time
}

// NewOrchestrator wires the orchestrator to its store, tracker, steps and
// lease backend.
func NewOrchestrator(cfg *config.Config, store *queue.Store, runs *tracker.Tracker, steps stage.Set, leases lease.Backend, logger *slog.Logger) *Orchestrator {
	logger = logging.NewComponentLogger(logger, "orchestrator")
	maxAttempts := cfg.Workflow.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.Default().Workflow.MaxAttempts
	}
	return &Orchestrator{
		store:         store,
		runs:          runs,
		steps:         steps,
		leases:        leases,
		heartbeat:     NewHeartbeatMonitor(leases, logger, cfg.LeaseRenewInterval(), cfg.LeaseTTL()),
		logger:        logger,
		holder:        holderName(),
		leaseTTL:      cfg.LeaseTTL(),
		maxAttempts:   maxAttempts,
		skipThumbnail: cfg.Workflow.SkipThumbnail,
		now:           time.Now,
	}
}

func holderName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gleaner"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// pipeline is the state of one run in progress.
type pipeline struct {
	item      *queue.Item
	run       tracker.Run
	opts      Options
	origin    status.Status
	finalized bool
}

// manual reports whether a human asserted the item's relevance.
func (p *pipeline) manual() bool {
	return p.item.IsManual() || p.opts.Resume.ManualOverride
}

// manualTrigger reports whether transitions should be audited as manual.
func (p *pipeline) manualTrigger() bool {
	return p.opts.Trigger == tracker.TriggerManual || p.opts.Trigger == tracker.TriggerSingleStep
}

func (p *pipeline) outcome(result Result, reason string) Outcome {
	return Outcome{
		ItemID:   p.item.ID,
		RunID:    p.run.ID,
		Status:   p.item.Status,
		Result:   result,
		Reason:   reason,
		Attempts: p.item.Attempts,
	}
}

// finalStatus is where a successful run leaves the item after step.
func (p *pipeline) finalStatus(step status.Step) status.Status {
	if p.opts.Resume.ReturnStatus != "" {
		return p.opts.Resume.ReturnStatus
	}
	if p.opts.Resume.SingleStep {
		if p.origin.Phase() == status.PhaseReview {
			return p.origin
		}
		if next := step.Next(); next != status.StepNone {
			return status.ReadyFor(next)
		}
	}
	return status.PendingReview
}

// EnrichItem runs the item from its resume point (or opts.Resume.StartAt)
// to a terminal or resting status. Step failures are handled by the retry
// policy and reported in the Outcome; the returned error is non-nil only for
// fatal step errors, lease contention, and store failures.
func (o *Orchestrator) EnrichItem(ctx context.Context, itemID int64, opts Options) (Outcome, error) {
	opts = o.withDefaults(opts)
	ctx = services.WithItemID(ctx, itemID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, o.logger)
	outcome := Outcome{ItemID: itemID, Result: ResultAborted}

	if err := validateReturnStatus(opts.Resume.ReturnStatus); err != nil {
		outcome.Reason = err.Error()
		return outcome, err
	}

	claimed, err := o.leases.Claim(ctx, itemID, o.holder, o.leaseTTL)
	if err != nil {
		if errors.Is(err, queue.ErrLeaseHeld) {
			logger.Info("item leased by another worker; skipping",
				logging.Event("lease_busy"),
			)
			outcome.Reason = "item is leased by another worker"
		}
		return outcome, err
	}
	held := &heldLease{lease: claimed}
	defer o.release(ctx, logger, held)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	hbCtx, hbCancel := context.WithCancel(runCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go o.heartbeat.StartLoop(hbCtx, &hbWG, held, cancelRun)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	item, err := o.store.GetByID(runCtx, itemID)
	if err != nil {
		return outcome, err
	}
	outcome.Status = item.Status
	outcome.Attempts = item.Attempts

	start, err := startStep(item, opts.Resume)
	if err != nil {
		outcome.Reason = err.Error()
		return outcome, err
	}

	p := &pipeline{item: item, opts: opts, origin: item.Status}
	if err := o.moveToStart(runCtx, p, start); err != nil {
		return outcome, err
	}

	run, created, err := o.runs.EnsureRun(runCtx, itemID, opts.Trigger, opts.Actor)
	if err != nil {
		return p.outcome(ResultAborted, err.Error()), fmt.Errorf("open pipeline run: %w", err)
	}
	p.run = run
	runCtx = services.WithRunID(runCtx, run.ID)
	logging.WithContext(runCtx, o.logger).Info("pipeline run started",
		logging.Event("run_start"),
		logging.String("start_step", string(start)),
		logging.String("trigger", string(run.Trigger)),
		logging.Bool("resumed_open_run", !created),
		logging.Bool("single_step", opts.Resume.SingleStep),
	)

	result, err := o.execute(runCtx, p, start)
	if err != nil && !p.finalized {
		o.finalize(runCtx, p, tracker.Failed(err))
	}
	return result, err
}

func (o *Orchestrator) withDefaults(opts Options) Options {
	if opts.Actor == "" {
		opts.Actor = queue.ActorOrchestrator
	}
	if opts.Trigger == "" {
		switch {
		case opts.Resume.SingleStep:
			opts.Trigger = tracker.TriggerSingleStep
		case opts.Resume.StartAt != status.StepNone:
			opts.Trigger = tracker.TriggerManual
		default:
			opts.Trigger = tracker.TriggerDiscovery
		}
	}
	if o.skipThumbnail {
		opts.SkipThumbnail = true
	}
	return opts
}

func validateReturnStatus(s status.Status) error {
	if s == "" {
		return nil
	}
	if _, ok := status.Parse(string(s)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidReturnStatus, s)
	}
	if s.Phase() == status.PhaseReady || (s.IsTerminal() && s != status.Failed) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidReturnStatus, s)
}

// startStep resolves where the run begins. A working status left behind by
// a crashed run resumes at the same step.
func startStep(item *queue.Item, resume ResumeContext) (status.Step, error) {
	if resume.StartAt != status.StepNone {
		if resume.StartAt.Index() < 0 {
			return status.StepNone, fmt.Errorf("unknown step %q", resume.StartAt)
		}
		return resume.StartAt, nil
	}
	step, ok := status.ResumePointFor(status.ReadyAfterWorking(item.Status))
	if !ok {
		return status.StepNone, fmt.Errorf("item %d is %s: %w", item.ID, item.Status, ErrNotResumable)
	}
	return step, nil
}

// moveToStart parks the item on the ready status of start.
func (o *Orchestrator) moveToStart(ctx context.Context, p *pipeline, start status.Step) error {
	if p.item.Status.IsWorking() {
		ready := status.ReadyAfterWorking(p.item.Status)
		item, err := o.store.Transition(ctx, p.item.ID, ready, p.opts.Actor, queue.TransitionOptions{
			ExpectStatus: p.item.Status,
		})
		if err != nil {
			return fmt.Errorf("recover %s: %w", p.item.Status, err)
		}
		p.item = item
	}

	target := status.ReadyFor(start)
	if p.item.Status == target {
		return nil
	}
	opts := queue.TransitionOptions{ExpectStatus: p.item.Status, Manual: true}
	if p.item.Status.IsTerminal() {
		opts.Fields = queue.FieldChanges{
			Attempts:         queue.Ptr(0),
			RejectionReason:  queue.Ptr(""),
			PermanentFailure: queue.Ptr(false),
			ClearFailedAt:    true,
		}
	}
	item, err := o.store.Transition(ctx, p.item.ID, target, p.opts.Actor, opts)
	if err != nil {
		return fmt.Errorf("move to %s: %w", target, err)
	}
	p.item = item
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, p *pipeline, start status.Step) (Outcome, error) {
	for step := start; step != status.StepNone; step = o.nextStep(p, step) {
		if step == status.StepThumbnail && p.opts.SkipThumbnail {
			return o.finishSkipped(ctx, p, step)
		}
		done, err := o.runStep(ctx, p, step)
		if err != nil || done != nil {
			if done == nil {
				return p.outcome(ResultAborted, err.Error()), err
			}
			return *done, err
		}
	}
	// Unreachable: the last step always finishes the run.
	return p.outcome(ResultAborted, "no step ran"), errors.New("pipeline ended without a final transition")
}

func (o *Orchestrator) nextStep(p *pipeline, step status.Step) status.Step {
	if p.opts.Resume.SingleStep {
		return status.StepNone
	}
	next := step.Next()
	if next == status.StepThumbnail && p.opts.SkipThumbnail {
		return status.StepNone
	}
	return next
}

// finalize closes the run once. Store writes use a context that survives
// cancellation so shutdown still records the outcome.
func (o *Orchestrator) finalize(ctx context.Context, p *pipeline, outcome tracker.Outcome) {
	p.finalized = true
	logger := logging.WithContext(ctx, o.logger)
	applied, err := o.runs.FinalizeRun(context.WithoutCancel(ctx), p.run.ID, outcome)
	if err != nil {
		logging.WarnWithContext(logger, "failed to finalize pipeline run", "run_finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run stays open until the next run for this item closes it"),
		)
		return
	}
	if !applied {
		logger.Debug("pipeline run already finalized")
		return
	}
	logger.Info("pipeline run finished",
		logging.Event("run_complete"),
		logging.String("run_status", string(outcome.Status)),
	)
}

func (o *Orchestrator) release(ctx context.Context, logger *slog.Logger, held *heldLease) {
	err := o.leases.Release(context.WithoutCancel(ctx), held.get())
	if err != nil && !errors.Is(err, queue.ErrLeaseLost) {
		logging.WarnWithContext(logger, "failed to release item lease", "lease_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item waits for the lease to expire"),
		)
	}
}
