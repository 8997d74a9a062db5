package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gleaner/internal/api"
	"gleaner/internal/config"
	"gleaner/internal/intake"
	"gleaner/internal/lease"
	"gleaner/internal/llm"
	"gleaner/internal/queue"
	"gleaner/internal/rawstore"
	"gleaner/internal/stage"
	"gleaner/internal/steps/fetch"
	"gleaner/internal/steps/filter"
	"gleaner/internal/steps/summarize"
	"gleaner/internal/steps/tag"
	"gleaner/internal/steps/thumbnail"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

// Runtime holds the wired components shared by the daemon and one-shot CLI
// commands.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *queue.Store
	Leases       lease.Backend
	Runs         *tracker.Tracker
	Steps        stage.Set
	Orchestrator *workflow.Orchestrator
	Sweeper      *workflow.Sweeper
	Batch        *workflow.Batch
	Intake       *intake.Intake
}

// Build opens the queue store and wires every component around it. Callers
// must Close the runtime.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	rt, err := buildAround(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return rt, nil
}

func buildAround(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Runtime, error) {
	leases, err := lease.New(ctx, cfg, store)
	if err != nil {
		return nil, fmt.Errorf("lease backend: %w", err)
	}
	steps, err := BuildSteps(cfg, logger)
	if err != nil {
		leases.Close()
		return nil, err
	}
	runs := tracker.NewForStore(store)
	orch := workflow.NewOrchestrator(cfg, store, runs, steps, leases, logger)
	sweeper := workflow.NewSweeper(store, leases, logger)
	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Leases:       leases,
		Runs:         runs,
		Steps:        steps,
		Orchestrator: orch,
		Sweeper:      sweeper,
		Batch:        workflow.NewBatch(cfg, store, orch, sweeper, logger),
		Intake:       intake.New(store, logger),
	}, nil
}

// BuildSteps constructs the five enrichment step handlers from config.
func BuildSteps(cfg *config.Config, logger *slog.Logger) (stage.Set, error) {
	raw, err := rawstore.New(cfg.Paths.RawDir)
	if err != nil {
		return stage.Set{}, fmt.Errorf("raw content store: %w", err)
	}
	thumbs, err := rawstore.New(cfg.Paths.ThumbnailDir)
	if err != nil {
		return stage.Set{}, fmt.Errorf("thumbnail store: %w", err)
	}
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return stage.Set{}, err
	}
	var embedder filter.Embedder
	if cfg.Filter.EmbeddingEnabled {
		embedder = client
	}
	relevance, err := filter.New(cfg, client, embedder, logger)
	if err != nil {
		return stage.Set{}, err
	}
	return stage.Set{
		Fetch:     fetch.New(cfg, raw, logger),
		Filter:    relevance,
		Summarize: summarize.New(client, logger),
		Tag:       tag.New(client, logger),
		Thumbnail: thumbnail.New(cfg, thumbs, logger),
	}, nil
}

// Handler builds the HTTP handler over the runtime. status may be nil for
// one-shot use without a polling loop.
func (r *Runtime) Handler(status api.StatusSource) *api.Handler {
	return api.NewHandler(api.HandlerDeps{
		Queue:    api.NewQueueService(r.Store, r.Runs),
		Mutator:  r.Store,
		Enricher: r.Orchestrator,
		Batch:    r.Batch,
		Workflow: status,
		Intake:   r.Intake,
		Logger:   r.Logger,
	})
}

// Close releases the lease backend and the queue store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Leases != nil {
		errs = append(errs, r.Leases.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	return errors.Join(errs...)
}
