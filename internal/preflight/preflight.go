package preflight

import (
	"context"

	"gleaner/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail"`
}

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Raw content directory", cfg.Paths.RawDir),
		CheckDirectoryAccess("Thumbnail directory", cfg.Paths.ThumbnailDir),
		CheckLLM(ctx, cfg.LLM),
	}

	if cfg.Filter.RulesPath != "" {
		results = append(results, CheckFile("Relevance rules", cfg.Filter.RulesPath))
	}

	if cfg.Thumbnail.Enabled && !cfg.Workflow.SkipThumbnail && cfg.Thumbnail.RenderURL != "" {
		results = append(results, CheckRenderService(ctx, cfg.Thumbnail.RenderURL))
	} else {
		results = append(results, Result{Name: "Render service", Passed: true, Skipped: true, Detail: "Disabled"})
	}

	if cfg.Workflow.LeaseBackend == "redis" {
		results = append(results, CheckRedis(ctx, cfg.Redis))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
