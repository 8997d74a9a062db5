package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gleaner/internal/api"
	"gleaner/internal/config"
	"gleaner/internal/daemon"
	"gleaner/internal/logging"
	"gleaner/internal/preflight"
	"gleaner/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the gleaner daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	now := time.Now()
	archived, rotateErr := logging.RotateLogFile(cfg.Paths.LogDir, now)

	logCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		logCfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if rotateErr != nil {
		logging.WarnWithContext(logger, "log rotation failed; appending to existing log", "log_rotate_failed",
			logging.Error(rotateErr),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
		)
	} else if archived != "" {
		logger.Debug("previous log archived", logging.String("path", archived))
	}
	if removed := logging.PruneArchivedLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, now); removed > 0 {
		logger.Info("pruned archived logs", logging.Int("removed", removed))
	}

	logConfigSnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	rt, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("daemon wiring failed", logging.Error(err))
		return err
	}
	defer rt.Close()

	manager := workflow.NewManager(cfg, rt.Store, rt.Batch, rt.Steps, logger)

	var server *api.HTTPServer
	if bind := strings.TrimSpace(cfg.Paths.APIBind); bind != "" {
		engine := api.NewServer(rt.Handler(manager), cfg.Paths.APIToken, logger)
		server = api.NewHTTPServer(bind, engine, logger)
	}

	d, err := daemon.New(cfg, logger, manager, server)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon stopped with error", "daemon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the api bind address and queue database access"),
		)
		return err
	}
	logger.Info("gleaner daemon shut down")
	return nil
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.Event("config_snapshot"),
		logging.String("database", cfg.DatabasePath()),
		logging.String("llm_host", cfg.LLM.Host),
		logging.String("llm_model", cfg.LLM.Model),
		logging.Bool("embedding_prefilter", cfg.Filter.EmbeddingEnabled),
		logging.String("rules_path", cfg.Filter.RulesPath),
		logging.Bool("thumbnail_enabled", cfg.Thumbnail.Enabled && strings.TrimSpace(cfg.Thumbnail.RenderURL) != ""),
		logging.Bool("skip_thumbnail", cfg.Workflow.SkipThumbnail),
		logging.String("lease_backend", cfg.Workflow.LeaseBackend),
		logging.Int("max_attempts", cfg.Workflow.MaxAttempts),
		logging.Int("batch_limit", cfg.Workflow.BatchLimit),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
	)
}

// logPreflight reports unreachable dependencies without blocking startup;
// steps whose service is down fail with transient errors and are retried.
func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "items needing this dependency are retried until it recovers"),
			logging.String(logging.FieldErrorHint, "run `gleaner doctor` for details"),
		)
	}
}
