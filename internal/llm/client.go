package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"gleaner/internal/config"
	"gleaner/internal/services"
)

const (
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// Client wraps the Ollama generate and embed endpoints.
type Client struct {
	api        *api.Client
	host       string
	model      string
	embedModel string
	timeout    time.Duration

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
	httpClient       *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an Ollama client from the llm config section.
func NewClient(cfg config.LLM, opts ...Option) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure", "llm.host is empty", nil)
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "configure", "parse llm.host", err)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		host:             host,
		model:            strings.TrimSpace(cfg.Model),
		embedModel:       strings.TrimSpace(cfg.EmbedModel),
		timeout:          timeout,
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	client.api = api.NewClient(base, client.httpClient)
	return client, nil
}

// Model returns the generation model name.
func (c *Client) Model() string {
	return c.model
}

// Complete runs a non-streaming generate request and returns the response text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.generate(ctx, system, prompt, false, "llm complete")
}

// CompleteJSON runs a generate request in JSON mode and returns the raw payload.
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	return c.generate(ctx, system, prompt, true, "llm complete json")
}

// GenerateJSON runs a JSON-mode request and decodes the answer into target.
// Undecodable output is reported as a validation error.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string, target any) error {
	content, err := c.CompleteJSON(ctx, system, prompt)
	if err != nil {
		return err
	}
	if err := DecodeLLMJSON(content, target); err != nil {
		return services.Wrap(services.ErrValidation, "llm", "decode response", "model returned unusable JSON", err)
	}
	return nil
}

// Embed returns one embedding per input using the embedding model.
func (c *Client) Embed(ctx context.Context, inputs ...string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if c.embedModel == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "embed", "llm.embed_model is empty", nil)
	}
	var out [][]float32
	err := c.withRetry(ctx, "llm embed", func() error {
		resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: c.embedModel, Input: inputs})
		if err != nil {
			return err
		}
		if len(resp.Embeddings) != len(inputs) {
			return &emptyContentError{Op: "llm embed", Snippet: fmt.Sprintf("%d embeddings for %d inputs", len(resp.Embeddings), len(inputs))}
		}
		out = resp.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck verifies the Ollama server answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("llm health: %s: %w", c.host, err)
	}
	return nil
}

type emptyContentError struct {
	Op      string
	Snippet string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (response_snippet=%s)", e.Op, e.Snippet)
}

func (c *Client) generate(ctx context.Context, system, prompt string, jsonMode bool, op string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", services.Wrap(services.ErrValidation, "llm", op, "prompt is empty", nil)
	}
	if c.model == "" {
		return "", services.Wrap(services.ErrConfiguration, "llm", op, "llm.model is empty", nil)
	}
	req := &api.GenerateRequest{
		Model:   c.model,
		System:  strings.TrimSpace(system),
		Prompt:  prompt,
		Stream:  new(bool),
		Options: map[string]any{"temperature": 0},
	}
	if jsonMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var content string
	err := c.withRetry(ctx, op, func() error {
		var builder strings.Builder
		err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
			builder.WriteString(resp.Response)
			return nil
		})
		if err != nil {
			return err
		}
		content = strings.TrimSpace(builder.String())
		if content == "" {
			return &emptyContentError{Op: op, Snippet: "<empty>"}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return classify(op, err)
		}
	}
	return classify(op, lastErr)
}

// classify tags a final client error with the services marker that matches
// how the workflow should treat it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return services.Wrap(services.ErrExternalTool, "llm", op, "model not available", err)
		case statusErr.StatusCode == http.StatusBadRequest:
			return services.Wrap(services.ErrExternalTool, "llm", op, "request rejected", err)
		}
		return services.Wrap(services.ErrExternalTool, "llm", op, fmt.Sprintf("http %d", statusErr.StatusCode), err)
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return services.Wrap(services.ErrValidation, "llm", op, "model returned no content", err)
	}
	if msg := strings.ToLower(err.Error()); strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
		return services.Wrap(services.ErrExternalTool, "llm", op, "model not available", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return services.Wrap(services.ErrTimeout, "llm", op, "request timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, "llm", op, "request failed", err)
}
