package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateThumbnail(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateFilter(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_attempts":         c.Workflow.MaxAttempts,
		"workflow.batch_limit":          c.Workflow.BatchLimit,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.lease_ttl":            c.Workflow.LeaseTTL,
		"workflow.lease_renew_interval": c.Workflow.LeaseRenewInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseTTL <= c.Workflow.LeaseRenewInterval {
		return errors.New("workflow.lease_ttl must be greater than workflow.lease_renew_interval")
	}
	switch c.Workflow.LeaseBackend {
	case leaseBackendSQLite:
	case leaseBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr must be set when workflow.lease_backend is redis")
		}
	default:
		return fmt.Errorf("workflow.lease_backend: unsupported value %q", c.Workflow.LeaseBackend)
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.TimeoutSeconds <= 0 {
		return errors.New("fetch.timeout_seconds must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return errors.New("fetch.max_bytes must be positive")
	}
	return nil
}

func (c *Config) validateThumbnail() error {
	if !c.Thumbnail.Enabled {
		return nil
	}
	if c.Thumbnail.TimeoutSeconds <= 0 {
		return errors.New("thumbnail.timeout_seconds must be positive")
	}
	if c.Thumbnail.RenderURL != "" {
		if _, err := url.ParseRequestURI(c.Thumbnail.RenderURL); err != nil {
			return fmt.Errorf("thumbnail.render_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLLM() error {
	if _, err := url.Parse(c.LLM.Host); err != nil {
		return fmt.Errorf("llm.host: %w", err)
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateFilter() error {
	if err := ensureScore("filter.min_score", c.Filter.MinScore); err != nil {
		return err
	}
	if err := ensureScore("filter.trusted_score", c.Filter.TrustedScore); err != nil {
		return err
	}
	if err := ensureScore("filter.reject_cap_score", c.Filter.RejectCapScore); err != nil {
		return err
	}
	if c.Filter.AgeThresholdYears < 0 {
		return errors.New("filter.age_threshold_years must not be negative")
	}
	if c.Filter.EmbeddingEnabled {
		if c.LLM.EmbedModel == "" {
			return errors.New("llm.embed_model must be set when filter.embedding_enabled is true")
		}
		if len(c.Filter.ReferenceTopics) == 0 {
			return errors.New("filter.reference_topics must be set when filter.embedding_enabled is true")
		}
		if c.Filter.EmbeddingReject < -1 || c.Filter.EmbeddingAccept > 1 {
			return errors.New("filter embedding bands must lie within [-1, 1]")
		}
		if c.Filter.EmbeddingReject >= c.Filter.EmbeddingAccept {
			return errors.New("filter.embedding_reject must be lower than filter.embedding_accept")
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if u, err := url.Parse(c.Notifications.NtfyTopic); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic: expected an http(s) topic URL, got %q", c.Notifications.NtfyTopic)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.BatchMinItems < 1 {
		return errors.New("notifications.batch_min_items must be >= 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensureScore(key string, value int) error {
	if value < 1 || value > 10 {
		return fmt.Errorf("%s must be between 1 and 10", key)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
