package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	RawDir       string `toml:"raw_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Workflow contains the orchestration policy and daemon timing.
type Workflow struct {
	MaxAttempts        int    `toml:"max_attempts"`
	BatchLimit         int    `toml:"batch_limit"`
	QueuePollInterval  int    `toml:"queue_poll_interval"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	LeaseTTL           int    `toml:"lease_ttl"`
	LeaseRenewInterval int    `toml:"lease_renew_interval"`
	LeaseBackend       string `toml:"lease_backend"`
	SkipThumbnail      bool   `toml:"skip_thumbnail"`
}

// Fetch contains settings for retrieving raw content.
type Fetch struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxBytes       int64  `toml:"max_bytes"`
	UserAgent      string `toml:"user_agent"`
}

// Thumbnail contains settings for the render service.
type Thumbnail struct {
	Enabled        bool     `toml:"enabled"`
	RenderURL      string   `toml:"render_url"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	AllowedSchemes []string `toml:"allowed_schemes"`
}

// LLM contains Ollama connection settings shared by filter, summarize and tag.
type LLM struct {
	Host           string `toml:"host"`
	Model          string `toml:"model"`
	EmbedModel     string `toml:"embed_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Filter contains relevance filter thresholds.
type Filter struct {
	RulesPath         string   `toml:"rules_path"`
	MinScore          int      `toml:"min_score"`
	AgeThresholdYears int      `toml:"age_threshold_years"`
	TrustedScore      int      `toml:"trusted_score"`
	RejectCapScore    int      `toml:"reject_cap_score"`
	EmbeddingEnabled  bool     `toml:"embedding_enabled"`
	EmbeddingAccept   float64  `toml:"embedding_accept"`
	EmbeddingReject   float64  `toml:"embedding_reject"`
	ReferenceTopics   []string `toml:"reference_topics"`
	MaxPromptChars    int      `toml:"max_prompt_chars"`
}

// Redis contains connection settings for the redis lease backend.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Failures       bool   `toml:"failures"`
	Batches        bool   `toml:"batches"`
	BatchMinItems  int    `toml:"batch_min_items"`
}

// Config encapsulates all configuration values for gleaner.
//
// Configuration sections by subsystem:
//   - Paths: data, log and content directories plus the API bind address
//   - Workflow: attempt budget, batch size, polling and lease timing
//   - Fetch, Thumbnail: network step limits
//   - LLM: Ollama host and models
//   - Filter: relevance thresholds and the rules file
//   - Redis: optional shared lease backend
//   - Notifications: ntfy alerts for failed items and batch summaries
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Fetch         Fetch         `toml:"fetch"`
	Thumbnail     Thumbnail     `toml:"thumbnail"`
	LLM           LLM           `toml:"llm"`
	Filter        Filter        `toml:"filter"`
	Redis         Redis         `toml:"redis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gleaner/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gleaner.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.RawDir, c.Paths.ThumbnailDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite queue database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "gleaner.lock")
}

// PollInterval returns the daemon queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// ErrorRetryInterval returns the daemon backoff after a failed batch.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// LeaseTTL returns how long an item claim stays valid without renewal.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Workflow.LeaseTTL) * time.Second
}

// LeaseRenewInterval returns how often a held claim is extended.
func (c *Config) LeaseRenewInterval() time.Duration {
	return time.Duration(c.Workflow.LeaseRenewInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
