package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gleaner/internal/notifications"
	"gleaner/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var sendTest bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if sendTest {
				results = append(results, testNotification(cmd, cfg.Notifications.NtfyTopic, notifications.NewService(cfg)))
			}
			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					kind := statusOK
					switch {
					case r.Skipped:
						kind = statusInfo
					case !r.Passed:
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sendTest, "notify", false, "Also send a test notification")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func testNotification(cmd *cobra.Command, topic string, svc notifications.Service) preflight.Result {
	const name = "Notifications"
	if topic == "" {
		return preflight.Result{Name: name, Passed: true, Skipped: true, Detail: "ntfy topic not configured"}
	}
	if err := svc.Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
		return preflight.Result{Name: name, Detail: err.Error()}
	}
	return preflight.Result{Name: name, Passed: true, Detail: "test notification sent"}
}
