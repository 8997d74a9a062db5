package workflow_test

import (
	"context"
	"sync"
	"testing"

	"gleaner/internal/config"
	"gleaner/internal/lease"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/stage"
	"gleaner/internal/status"
	"gleaner/internal/testsupport"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

type stepFunc func(ctx context.Context, in stage.Input) (stage.Result, error)

// stubStep records every invocation so tests can assert which steps ran.
type stubStep struct {
	name status.Step
	run  stepFunc

	mu    sync.Mutex
	calls []stage.Input
}

func (s *stubStep) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in)
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return stage.Result{Record: map[string]any{"step": string(s.name)}}, nil
	}
	return run(ctx, in)
}

func (s *stubStep) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(s.name))
}

func (s *stubStep) set(run stepFunc) {
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
}

func (s *stubStep) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubStep) lastCall() stage.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	runs    *tracker.Tracker
	leases  lease.Backend
	steps   map[status.Step]*stubStep
	orch    *workflow.Orchestrator
	sweeper *workflow.Sweeper
	batch   *workflow.Batch
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	steps := make(map[status.Step]*stubStep)
	for _, step := range status.Steps() {
		steps[step] = &stubStep{name: step}
	}
	steps[status.StepFetch].run = func(context.Context, stage.Input) (stage.Result, error) {
		return stage.Result{Patch: map[string]any{
			"title": "Understanding Raft",
			"text":  "Raft is a consensus algorithm.",
		}}, nil
	}
	steps[status.StepFilter].run = verdict(true, 8, "on topic")
	steps[status.StepSummarize].run = func(context.Context, stage.Input) (stage.Result, error) {
		return stage.Result{Patch: map[string]any{"summary": "Raft in brief."}, Record: "summarized"}, nil
	}
	steps[status.StepTag].run = func(context.Context, stage.Input) (stage.Result, error) {
		tags := []queue.Tag{{Name: "consensus", Confidence: 0.9}}
		return stage.Result{Patch: map[string]any{"tags": tags}, Record: tags}, nil
	}

	set := stage.Set{
		Fetch:     steps[status.StepFetch],
		Filter:    steps[status.StepFilter],
		Summarize: steps[status.StepSummarize],
		Tag:       steps[status.StepTag],
		Thumbnail: steps[status.StepThumbnail],
	}
	runs := tracker.NewForStore(store)
	leases := lease.NewSQLite(store)
	logger := logging.NewNop()
	orch := workflow.NewOrchestrator(cfg, store, runs, set, leases, logger)
	sweeper := workflow.NewSweeper(store, leases, logger)
	return &harness{
		cfg:     cfg,
		store:   store,
		runs:    runs,
		leases:  leases,
		steps:   steps,
		orch:    orch,
		sweeper: sweeper,
		batch:   workflow.NewBatch(cfg, store, orch, sweeper, logger),
	}
}

func (h *harness) stageSet() stage.Set {
	return stage.Set{
		Fetch:     h.steps[status.StepFetch],
		Filter:    h.steps[status.StepFilter],
		Summarize: h.steps[status.StepSummarize],
		Tag:       h.steps[status.StepTag],
		Thumbnail: h.steps[status.StepThumbnail],
	}
}

func verdict(accepted bool, score int, reason string) stepFunc {
	return func(context.Context, stage.Input) (stage.Result, error) {
		v := queue.FilterVerdict{Accepted: accepted, Score: score, Reason: reason, Method: "llm"}
		return stage.Result{Verdict: &v, Record: v}, nil
	}
}

func failWith(err error) stepFunc {
	return func(context.Context, stage.Input) (stage.Result, error) {
		return stage.Result{}, err
	}
}

func (h *harness) item(t *testing.T, id int64) *queue.Item {
	t.Helper()
	item, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return item
}

func (h *harness) runsFor(t *testing.T, id int64) []tracker.Run {
	t.Helper()
	runs, err := h.runs.RunsForItem(context.Background(), id)
	if err != nil {
		t.Fatalf("RunsForItem: %v", err)
	}
	return runs
}

// stepRunsFor returns every step run across all of the item's runs.
func (h *harness) stepRunsFor(t *testing.T, id int64) []tracker.StepRun {
	t.Helper()
	var out []tracker.StepRun
	for _, run := range h.runsFor(t, id) {
		steps, err := h.runs.StepsForRun(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("StepsForRun: %v", err)
		}
		out = append(out, steps...)
	}
	return out
}

// visited reports the statuses the item moved into, in order.
func (h *harness) visited(t *testing.T, id int64) []status.Status {
	t.Helper()
	history, err := h.store.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	out := make([]status.Status, 0, len(history))
	for _, entry := range history {
		out = append(out, entry.To)
	}
	return out
}

func contains[T comparable](values []T, want T) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
