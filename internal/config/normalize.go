package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeFetch()
	c.normalizeThumbnail()
	c.normalizeLLM()
	if err := c.normalizeFilter(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RawDir) == "" {
		c.Paths.RawDir = defaultRawDir
	}
	if c.Paths.RawDir, err = expandPath(c.Paths.RawDir); err != nil {
		return fmt.Errorf("paths.raw_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ThumbnailDir) == "" {
		c.Paths.ThumbnailDir = defaultThumbnailDir
	}
	if c.Paths.ThumbnailDir, err = expandPath(c.Paths.ThumbnailDir); err != nil {
		return fmt.Errorf("paths.thumbnail_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("GLEANER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.LeaseBackend = strings.ToLower(strings.TrimSpace(c.Workflow.LeaseBackend))
	if c.Workflow.LeaseBackend == "" {
		c.Workflow.LeaseBackend = defaultLeaseBackend
	}
}

func (c *Config) normalizeFetch() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultFetchUserAgent
	}
}

func (c *Config) normalizeThumbnail() {
	c.Thumbnail.RenderURL = strings.TrimSpace(c.Thumbnail.RenderURL)
	if c.Thumbnail.RenderURL == "" {
		if value, ok := os.LookupEnv("GLEANER_RENDER_URL"); ok {
			c.Thumbnail.RenderURL = strings.TrimSpace(value)
		}
	}
	schemes := make([]string, 0, len(c.Thumbnail.AllowedSchemes))
	seen := make(map[string]struct{}, len(c.Thumbnail.AllowedSchemes))
	for _, scheme := range c.Thumbnail.AllowedSchemes {
		normalized := strings.ToLower(strings.TrimSpace(scheme))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		schemes = append(schemes, normalized)
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	c.Thumbnail.AllowedSchemes = schemes
}

func (c *Config) normalizeLLM() {
	c.LLM.Host = strings.TrimSpace(c.LLM.Host)
	if value, ok := os.LookupEnv("OLLAMA_HOST"); ok && strings.TrimSpace(value) != "" {
		if c.LLM.Host == "" || c.LLM.Host == defaultLLMHost {
			c.LLM.Host = strings.TrimSpace(value)
		}
	}
	if c.LLM.Host == "" {
		c.LLM.Host = defaultLLMHost
	}
	if !strings.Contains(c.LLM.Host, "://") {
		c.LLM.Host = "http://" + c.LLM.Host
	}
	c.LLM.Host = strings.TrimRight(c.LLM.Host, "/")
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.EmbedModel = strings.TrimSpace(c.LLM.EmbedModel)
}

func (c *Config) normalizeFilter() error {
	var err error
	c.Filter.RulesPath = strings.TrimSpace(c.Filter.RulesPath)
	if c.Filter.RulesPath != "" {
		if c.Filter.RulesPath, err = expandPath(c.Filter.RulesPath); err != nil {
			return fmt.Errorf("filter.rules_path: %w", err)
		}
	}
	topics := c.Filter.ReferenceTopics[:0]
	for _, topic := range c.Filter.ReferenceTopics {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	c.Filter.ReferenceTopics = topics
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if value, ok := os.LookupEnv("GLEANER_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("GLEANER_REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("GLEANER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
