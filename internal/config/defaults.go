package config

const (
	defaultDataDir               = "~/.local/share/gleaner"
	defaultLogDir                = "~/.local/share/gleaner/logs"
	defaultRawDir                = "~/.local/share/gleaner/raw"
	defaultThumbnailDir          = "~/.local/share/gleaner/thumbnails"
	defaultAPIBind               = "127.0.0.1:7489"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultMaxAttempts           = 3
	defaultBatchLimit            = 25
	defaultQueuePollInterval     = 30
	defaultErrorRetryInterval    = 60
	defaultLeaseTTL              = 120
	defaultLeaseRenewInterval    = 30
	defaultLeaseBackend          = "sqlite"
	defaultFetchTimeoutSeconds   = 20
	defaultFetchMaxBytes         = 5 << 20
	defaultFetchUserAgent        = "gleaner/dev (+https://github.com/gleaner)"
	defaultThumbnailTimeout      = 45
	defaultLLMHost               = "http://127.0.0.1:11434"
	defaultLLMModel              = "qwen2.5:7b"
	defaultLLMEmbedModel         = "nomic-embed-text"
	defaultLLMTimeoutSeconds     = 120
	defaultFilterMinScore        = 6
	defaultFilterAgeThreshold    = 5
	defaultFilterTrustedScore    = 8
	defaultFilterRejectCapScore  = 3
	defaultFilterEmbeddingAccept = 0.80
	defaultFilterEmbeddingReject = 0.35
	defaultFilterMaxPromptChars  = 6000
	defaultRedisAddr             = "127.0.0.1:6379"
	defaultNotifyTimeout         = 10
	defaultNotifyBatchMinItems   = 1
	leaseBackendSQLite           = "sqlite"
	leaseBackendRedis            = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			RawDir:       defaultRawDir,
			ThumbnailDir: defaultThumbnailDir,
			APIBind:      defaultAPIBind,
		},
		Workflow: Workflow{
			MaxAttempts:        defaultMaxAttempts,
			BatchLimit:         defaultBatchLimit,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseTTL:           defaultLeaseTTL,
			LeaseRenewInterval: defaultLeaseRenewInterval,
			LeaseBackend:       defaultLeaseBackend,
		},
		Fetch: Fetch{
			TimeoutSeconds: defaultFetchTimeoutSeconds,
			MaxBytes:       defaultFetchMaxBytes,
			UserAgent:      defaultFetchUserAgent,
		},
		Thumbnail: Thumbnail{
			Enabled:        true,
			TimeoutSeconds: defaultThumbnailTimeout,
			AllowedSchemes: []string{"http", "https"},
		},
		LLM: LLM{
			Host:           defaultLLMHost,
			Model:          defaultLLMModel,
			EmbedModel:     defaultLLMEmbedModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Filter: Filter{
			MinScore:          defaultFilterMinScore,
			AgeThresholdYears: defaultFilterAgeThreshold,
			TrustedScore:      defaultFilterTrustedScore,
			RejectCapScore:    defaultFilterRejectCapScore,
			EmbeddingAccept:   defaultFilterEmbeddingAccept,
			EmbeddingReject:   defaultFilterEmbeddingReject,
			MaxPromptChars:    defaultFilterMaxPromptChars,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Failures:       true,
			Batches:        true,
			BatchMinItems:  defaultNotifyBatchMinItems,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
