package filter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/viterin/vek/vek32"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/textutil"
)

const stageName = "filter"

// Decision methods recorded on the verdict.
const (
	MethodStaleness  = "staleness"
	MethodPattern    = "pattern"
	MethodTrusted    = "trusted"
	MethodEmptyTitle = "empty_title"
	MethodEmbedding  = "embedding"
	MethodScorer     = "llm"
)

const (
	maxScore       = 10
	staleScore     = 1
	maxAgePenalty  = 3
	hoursPerYear   = 24 * 365.25
	scoringPrompt  = "You rate how relevant an article is for a curated technical reading list. Respond with JSON {\"score\": <integer 0-10>, \"reason\": \"<one sentence>\"}."
	embedTextLimit = 2000
)

// Scorer produces a relevance score for an item.
type Scorer interface {
	GenerateJSON(ctx context.Context, system, prompt string, target any) error
}

// Embedder turns text into vectors for the similarity pre-filter.
type Embedder interface {
	Embed(ctx context.Context, inputs ...string) ([][]float32, error)
}

// Filter implements the relevance step.
type Filter struct {
	rules    Rules
	cfg      config.Filter
	scorer   Scorer
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time

	topicsMu sync.Mutex
	topics   [][]float32
}

// New loads the rules file and builds the filter. The embedder may be nil
// when the pre-filter is disabled.
func New(cfg *config.Config, scorer Scorer, embedder Embedder, logger *slog.Logger) (*Filter, error) {
	rules, err := LoadRules(cfg.Filter.RulesPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "load rules", cfg.Filter.RulesPath, err)
	}
	return NewWithRules(cfg.Filter, rules, scorer, embedder, logger), nil
}

// NewWithRules builds a filter from already loaded rules (used in tests).
func NewWithRules(cfg config.Filter, rules Rules, scorer Scorer, embedder Embedder, logger *slog.Logger) *Filter {
	return &Filter{
		rules:    rules,
		cfg:      cfg,
		scorer:   scorer,
		embedder: embedder,
		logger:   logging.NewComponentLogger(logger, stageName),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for age penalties.
func (f *Filter) SetClock(now func() time.Time) {
	if now != nil {
		f.now = now
	}
}

// Run evaluates the item and returns the verdict. A rejection is a normal
// result, not an error; the orchestrator decides what it means for the item.
func (f *Filter) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	verdict, err := f.Evaluate(ctx, in.Item)
	if err != nil {
		return stage.Result{}, err
	}
	logger := logging.WithContext(ctx, f.logger)
	result := textutil.Ternary(verdict.Accepted, "accepted", "rejected")
	attrs := logging.DecisionAttrs("relevance", result, verdict.Reason)
	attrs = append(attrs,
		logging.Int("score", verdict.Score),
		logging.String("method", verdict.Method),
		logging.Bool("manual", in.Manual),
	)
	logger.Info("relevance decision", logging.Args(attrs...)...)
	return stage.Result{Verdict: &verdict, Record: verdict}, nil
}

// Evaluate applies the deterministic checks in order, then the optional
// embedding bands, then the scoring call.
func (f *Filter) Evaluate(ctx context.Context, item queue.Item) (queue.FilterVerdict, error) {
	fields := fieldValues(item)

	for _, phrase := range f.rules.Staleness {
		for _, key := range []string{"title", "description", "url"} {
			if textutil.ContainsFold(fields[key], phrase) {
				return queue.FilterVerdict{
					Score:  staleScore,
					Reason: fmt.Sprintf("Stale content: %s contains '%s'", key, phrase),
					Method: MethodStaleness,
				}, nil
			}
		}
	}

	for _, rule := range f.rules.RejectPatterns {
		for _, phrase := range rule.Excludes {
			if textutil.ContainsFold(fields[rule.Field], phrase) {
				return queue.FilterVerdict{
					Score:  f.cfg.RejectCapScore,
					Reason: fmt.Sprintf("Excluded by %s filter: contains '%s'", rule.Field, phrase),
					Method: MethodPattern,
				}, nil
			}
		}
	}

	penalty := AgePenalty(item.Payload, f.now(), f.cfg.AgeThresholdYears)

	if host := hostOf(item.URL); host != "" && f.trusted(host) {
		return queue.FilterVerdict{
			Accepted: true,
			Score:    clampScore(f.cfg.TrustedScore - penalty),
			Reason:   withPenalty(fmt.Sprintf("Trusted source %s", host), penalty),
			Method:   MethodTrusted,
		}, nil
	}

	if strings.TrimSpace(item.Payload.Title) == "" {
		return queue.FilterVerdict{Score: 0, Reason: "Missing title", Method: MethodEmptyTitle}, nil
	}

	if verdict, ok := f.embeddingVerdict(ctx, item, penalty); ok {
		return verdict, nil
	}

	return f.score(ctx, item, penalty)
}

// HealthCheck reports whether the scoring collaborator is wired.
func (f *Filter) HealthCheck(ctx context.Context) stage.Health {
	if f.scorer == nil {
		return stage.Unhealthy(stageName, "scorer not configured")
	}
	if checker, ok := f.scorer.(interface{ HealthCheck(context.Context) error }); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(stageName, err.Error())
		}
	}
	return stage.Healthy(stageName)
}

func (f *Filter) trusted(host string) bool {
	for _, candidate := range f.rules.TrustedSources {
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}

type scoreResponse struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

func (f *Filter) score(ctx context.Context, item queue.Item, penalty int) (queue.FilterVerdict, error) {
	if f.scorer == nil {
		return queue.FilterVerdict{}, services.Wrap(services.ErrConfiguration, stageName, "score", "no scorer configured", nil)
	}
	var resp scoreResponse
	if err := f.scorer.GenerateJSON(ctx, scoringPrompt, f.prompt(item), &resp); err != nil {
		return queue.FilterVerdict{}, err
	}
	raw := clampScore(int(math.Round(resp.Score)))
	final := clampScore(raw - penalty)
	reason := strings.TrimSpace(resp.Reason)
	if reason == "" {
		reason = fmt.Sprintf("Scored %d", raw)
	}
	return queue.FilterVerdict{
		Accepted: final >= f.cfg.MinScore,
		Score:    final,
		Reason:   withPenalty(reason, penalty),
		Method:   MethodScorer,
	}, nil
}

func (f *Filter) prompt(item queue.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Payload.Title)
	if item.Payload.SiteName != "" {
		fmt.Fprintf(&b, "Site: %s\n", item.Payload.SiteName)
	}
	if item.Payload.PublishedAt != "" {
		fmt.Fprintf(&b, "Published: %s\n", item.Payload.PublishedAt)
	}
	fmt.Fprintf(&b, "URL: %s\n", item.URL)
	if item.Payload.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", item.Payload.Description)
	}
	if item.Payload.Text != "" {
		fmt.Fprintf(&b, "\n%s\n", stage.Truncate(item.Payload.Text, f.cfg.MaxPromptChars))
	}
	return b.String()
}

// embeddingVerdict compares the item against the reference topics. It
// reports false when the pre-filter is off, fails, or lands in the
// uncertain band.
func (f *Filter) embeddingVerdict(ctx context.Context, item queue.Item, penalty int) (queue.FilterVerdict, bool) {
	if !f.cfg.EmbeddingEnabled || f.embedder == nil || len(f.cfg.ReferenceTopics) == 0 {
		return queue.FilterVerdict{}, false
	}
	logger := logging.WithContext(ctx, f.logger)
	topics, err := f.topicVectors(ctx)
	if err == nil && len(topics) == 0 {
		return queue.FilterVerdict{}, false
	}
	var vecs [][]float32
	if err == nil {
		text := stage.Truncate(item.Payload.Title+"\n"+item.Payload.Description, embedTextLimit)
		vecs, err = f.embedder.Embed(ctx, text)
	}
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		logging.WarnWithContext(logger, "embedding pre-filter unavailable", "embedding_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item goes straight to the scorer"),
		)
		return queue.FilterVerdict{}, false
	}

	best, compared := float32(-1), false
	for _, topic := range topics {
		if len(topic) != len(vecs[0]) {
			continue
		}
		if sim := vek32.CosineSimilarity(vecs[0], topic); !compared || sim > best {
			best, compared = sim, true
		}
	}
	if !compared {
		// The topic vectors came from a different embedding model; embed
		// them again on the next item.
		f.resetTopics()
		logging.WarnWithContext(logger, "reference topic embeddings do not match item embedding", "embedding_mismatch",
			logging.Int("item_dims", len(vecs[0])),
			logging.String(logging.FieldImpact, "item goes straight to the scorer"),
			logging.String(logging.FieldErrorHint, "check llm.embed_model"),
		)
		return queue.FilterVerdict{}, false
	}
	similarity := float64(best)
	score := clampScore(int(math.Round(similarity*maxScore)) - penalty)
	switch {
	case similarity >= f.cfg.EmbeddingAccept:
		return queue.FilterVerdict{
			Accepted: true,
			Score:    score,
			Reason:   withPenalty(fmt.Sprintf("Similar to reference topics (%.2f)", similarity), penalty),
			Method:   MethodEmbedding,
		}, true
	case similarity <= f.cfg.EmbeddingReject:
		return queue.FilterVerdict{
			Score:  score,
			Reason: fmt.Sprintf("Unrelated to reference topics (%.2f)", similarity),
			Method: MethodEmbedding,
		}, true
	default:
		logger.Debug("embedding similarity uncertain; asking scorer", logging.Float64("similarity", similarity))
		return queue.FilterVerdict{}, false
	}
}

func (f *Filter) topicVectors(ctx context.Context) ([][]float32, error) {
	f.topicsMu.Lock()
	defer f.topicsMu.Unlock()
	if f.topics != nil {
		return f.topics, nil
	}
	vecs, err := f.embedder.Embed(ctx, f.cfg.ReferenceTopics...)
	if err != nil {
		return nil, err
	}
	f.topics = vecs
	return vecs, nil
}

func (f *Filter) resetTopics() {
	f.topicsMu.Lock()
	f.topics = nil
	f.topicsMu.Unlock()
}

// AgePenalty returns the score deduction for content older than threshold
// years: 0 below the threshold, else min(3, floor((age-threshold)/2)+1).
// Items without a parseable publication date get no penalty.
func AgePenalty(p queue.Payload, now time.Time, thresholdYears int) int {
	published, ok := p.Published()
	if !ok || thresholdYears <= 0 {
		return 0
	}
	age := int(math.Floor(now.Sub(published).Hours() / hoursPerYear))
	if age < thresholdYears {
		return 0
	}
	return min(maxAgePenalty, (age-thresholdYears)/2+1)
}

func withPenalty(reason string, penalty int) string {
	if penalty == 0 {
		return reason
	}
	return fmt.Sprintf("%s (age penalty -%d)", reason, penalty)
}

func clampScore(score int) int {
	return max(0, min(maxScore, score))
}

func fieldValues(item queue.Item) map[string]string {
	return map[string]string{
		"title":       item.Payload.Title,
		"description": item.Payload.Description,
		"url":         item.URL,
		"text":        item.Payload.Text,
		"site_name":   item.Payload.SiteName,
		"author":      item.Payload.Author,
	}
}

func hostOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Hostname())
}
