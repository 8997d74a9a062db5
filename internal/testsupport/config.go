package testsupport

import (
	"path/filepath"
	"testing"

	"gleaner/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Network-backed steps point at unroutable defaults; tests that need them
// override the endpoints with options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RawDir = filepath.Join(base, "raw")
	cfgVal.Paths.ThumbnailDir = filepath.Join(base, "thumbnails")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Filter.EmbeddingEnabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAttempts = n
	}
}

// WithLLMHost points the Ollama client at a test server.
func WithLLMHost(host string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.Host = host
	}
}

// WithRenderURL points the thumbnail step at a test render service.
func WithRenderURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Thumbnail.RenderURL = url
	}
}

// WithRulesFile writes a relevance rules file and references it from the config.
func WithRulesFile(contents string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "rules.yaml")
		WriteText(b.t, path, contents)
		b.cfg.Filter.RulesPath = path
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
