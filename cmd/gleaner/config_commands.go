package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the gleaner configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			if err := writeSampleConfig(target, overwrite); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Next: set [llm] host and model, then run `gleaner doctor`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

// configTarget resolves where `config init` writes, defaulting to the
// per-user config location.
func configTarget(flagValue string) (string, error) {
	if target := strings.TrimSpace(flagValue); target != "" {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	target, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return target, nil
}

func writeSampleConfig(target string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if !overwrite {
		_, err := os.Stat(target)
		switch {
		case err == nil:
			return fmt.Errorf("%s already exists (use --overwrite to replace it)", target)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("check config path: %w", err)
		}
	}
	if err := config.CreateSample(target); err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	return nil
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and print the settings gleaner will run with",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			out := cmd.OutOrStdout()
			source := resolved
			if !exists {
				source += " (not found; using defaults)"
			}
			fmt.Fprintln(out, renderField("Config path", source))
			printConfigSummary(out, cfg, shouldColorize(out))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func printConfigSummary(out io.Writer, cfg *config.Config, colorize bool) {
	printSection(out, "Storage", colorize)
	fmt.Fprintln(out, renderField("Queue database", cfg.DatabasePath()))
	fmt.Fprintln(out, renderField("Raw content", cfg.Paths.RawDir))
	fmt.Fprintln(out, renderField("Thumbnails", cfg.Paths.ThumbnailDir))
	fmt.Fprintln(out, renderField("Logs", cfg.Paths.LogDir))

	printSection(out, "Workflow", colorize)
	fmt.Fprintln(out, renderField("Max attempts", strconv.Itoa(cfg.Workflow.MaxAttempts)))
	fmt.Fprintln(out, renderField("Batch limit", strconv.Itoa(cfg.Workflow.BatchLimit)))
	fmt.Fprintln(out, renderField("Lease backend", cfg.Workflow.LeaseBackend))
	fmt.Fprintln(out, renderField("API bind", cfg.Paths.APIBind))

	printSection(out, "Services", colorize)
	fmt.Fprintln(out, renderField("LLM", cfg.LLM.Host+" ("+cfg.LLM.Model+")"))
	embed := "disabled"
	if cfg.Filter.EmbeddingEnabled {
		embed = cfg.LLM.EmbedModel
	}
	fmt.Fprintln(out, renderField("Embeddings", embed))
	thumbnails := "disabled"
	if cfg.Thumbnail.Enabled && cfg.Thumbnail.RenderURL != "" {
		thumbnails = cfg.Thumbnail.RenderURL
	}
	fmt.Fprintln(out, renderField("Render service", thumbnails))
	fmt.Fprintln(out, renderField("Notifications", cfg.Notifications.NtfyTopic))
}
