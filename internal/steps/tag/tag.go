// Package tag assigns taxonomy labels with confidences to an item.
package tag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/textutil"
)

const (
	stageName      = "tag"
	maxTags        = 8
	maxPromptChars = 4000
	systemPrompt   = "Label the article with up to eight short topic tags. Respond with JSON " +
		"{\"tags\": [{\"name\": \"<tag>\", \"confidence\": <0.0-1.0>}]}."
)

// Generator returns decoded JSON from a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, system, prompt string, target any) error
}

// Tagger implements the tag step.
type Tagger struct {
	client Generator
	logger *slog.Logger
}

// New constructs the tag step.
func New(client Generator, logger *slog.Logger) *Tagger {
	return &Tagger{client: client, logger: logging.NewComponentLogger(logger, stageName)}
}

type tagResponse struct {
	Tags []queue.Tag `json:"tags"`
}

// Run requests tags for the item's title and summary.
func (t *Tagger) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	if t.client == nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, stageName, "tag", "no completion client configured", nil)
	}
	p := in.Item.Payload
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Summary) == "" {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "build prompt", "item has neither title nor summary", nil)
	}
	content := p.Summary
	if content == "" {
		content = p.Text
	}
	prompt := fmt.Sprintf("Title: %s\n\n%s", p.Title, stage.Truncate(content, maxPromptChars))

	var resp tagResponse
	if err := t.client.GenerateJSON(ctx, systemPrompt, prompt, &resp); err != nil {
		return stage.Result{}, err
	}
	tags := Normalize(resp.Tags)
	if len(tags) == 0 {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "validate output", "model returned no usable tags", nil)
	}

	names := make([]string, 0, len(tags))
	for _, tg := range tags {
		names = append(names, tg.Name)
	}
	logging.WithContext(ctx, t.logger).Info("tags assigned",
		logging.Int("tag_count", len(tags)),
		logging.String("tags", strings.Join(names, ",")),
	)
	return stage.Result{
		Patch:  map[string]any{"tags": tags},
		Record: tags,
	}, nil
}

// HealthCheck pings the completion backend when it supports it.
func (t *Tagger) HealthCheck(ctx context.Context) stage.Health {
	if t.client == nil {
		return stage.Unhealthy(stageName, "completion client not configured")
	}
	if checker, ok := t.client.(interface{ HealthCheck(context.Context) error }); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(stageName, err.Error())
		}
	}
	return stage.Healthy(stageName)
}

// Normalize slugs tag names, clamps confidences to [0,1], merges duplicates
// keeping the highest confidence, and returns at most eight tags ordered by
// confidence.
func Normalize(in []queue.Tag) []queue.Tag {
	best := make(map[string]float64, len(in))
	for _, tg := range in {
		name := textutil.Slug(tg.Name)
		if name == "" {
			continue
		}
		conf := max(0, min(1, tg.Confidence))
		if prev, ok := best[name]; !ok || conf > prev {
			best[name] = conf
		}
	}
	out := make([]queue.Tag, 0, len(best))
	for name, conf := range best {
		out = append(out, queue.Tag{Name: name, Confidence: conf})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}
