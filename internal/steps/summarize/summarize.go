// Package summarize produces a short abstract of an item's readable text.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/textutil"
)

const (
	stageName      = "summarize"
	maxPromptChars = 8000
	maxSummaryChar = 1200
	systemPrompt   = "Summarize the article for a reading list in two to four plain sentences. " +
		"Do not use markdown, bullet points, or a preamble."
)

// Completer generates free text from a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Summarizer implements the summarize step.
type Summarizer struct {
	client Completer
	logger *slog.Logger
}

// New constructs the summarize step.
func New(client Completer, logger *slog.Logger) *Summarizer {
	return &Summarizer{client: client, logger: logging.NewComponentLogger(logger, stageName)}
}

// Run asks the model for a summary and validates the answer.
func (s *Summarizer) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	if s.client == nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, stageName, "summarize", "no completion client configured", nil)
	}
	p := in.Item.Payload
	body := strings.TrimSpace(p.Text)
	if body == "" {
		body = strings.TrimSpace(p.Description)
	}
	if body == "" {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "build prompt", "item has no text to summarize", nil)
	}

	prompt := fmt.Sprintf("Title: %s\n\n%s", p.Title, stage.Truncate(body, maxPromptChars))
	raw, err := s.client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return stage.Result{}, err
	}
	summary := stage.Truncate(Clean(raw), maxSummaryChar)
	if err := stage.RequireText(stageName, "summary", summary); err != nil {
		return stage.Result{}, err
	}

	logging.WithContext(ctx, s.logger).Info("summary generated",
		logging.Int("summary_chars", len(summary)),
		logging.Int("source_chars", len(body)),
	)
	return stage.Result{
		Patch:  map[string]any{"summary": summary},
		Record: map[string]any{"summary_chars": len(summary)},
	}, nil
}

// HealthCheck pings the completion backend when it supports it.
func (s *Summarizer) HealthCheck(ctx context.Context) stage.Health {
	if s.client == nil {
		return stage.Unhealthy(stageName, "completion client not configured")
	}
	if checker, ok := s.client.(interface{ HealthCheck(context.Context) error }); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(stageName, err.Error())
		}
	}
	return stage.Healthy(stageName)
}

// Clean strips markup, a leading "Summary:" label and surrounding quotes
// from model output.
func Clean(raw string) string {
	text := textutil.StripHTML(raw)
	lower := strings.ToLower(text)
	for _, prefix := range []string{"summary:", "here is a summary:", "here's a summary:"} {
		if strings.HasPrefix(lower, prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	return strings.Trim(text, "\"' ")
}
