package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/api"
	"gleaner/internal/daemonrun"
	"gleaner/internal/queue"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var stepName string
	var startAt string
	var returnStatus string
	var skipThumbnail bool
	var manualOverride bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enrich <id>",
		Short: "Run the enrichment pipeline for one item",
		Long: "Run the enrichment pipeline for one item now.\n\n" +
			"--step runs a single step and stops; --start-at resumes the pipeline from a step.\n" +
			"--return-status names where the item lands instead of pending_review.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			opts, err := enrichOptions(stepName, startAt, returnStatus)
			if err != nil {
				return err
			}
			opts.SkipThumbnail = skipThumbnail
			opts.Resume.ManualOverride = manualOverride

			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				outcome, runErr := rt.Orchestrator.EnrichItem(c, ids[0], opts)
				view := api.FromOutcome(outcome, runErr)
				if asJSON {
					if err := writeJSON(cmd, view); err != nil {
						return err
					}
				} else if view.Status != "" {
					printOutcome(cmd.OutOrStdout(), view)
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&stepName, "step", "", "Run only this step (fetch, filter, summarize, tag, thumbnail)")
	cmd.Flags().StringVar(&startAt, "start-at", "", "Resume the pipeline from this step")
	cmd.Flags().StringVar(&returnStatus, "return-status", "", "Status to land in on success")
	cmd.Flags().BoolVar(&skipThumbnail, "skip-thumbnail", false, "Skip the thumbnail step")
	cmd.Flags().BoolVar(&manualOverride, "manual-override", false, "Treat the item as hand-picked when filtering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.MarkFlagsMutuallyExclusive("step", "start-at")
	return cmd
}

func enrichOptions(stepName, startAt, returnStatus string) (workflow.Options, error) {
	opts := workflow.Options{Trigger: tracker.TriggerManual, Actor: queue.ActorCLI}
	if value := strings.TrimSpace(stepName); value != "" {
		step, err := status.ParseStep(value)
		if err != nil {
			return opts, err
		}
		opts.Trigger = tracker.TriggerSingleStep
		opts.Resume.StartAt = step
		opts.Resume.SingleStep = true
	}
	if value := strings.TrimSpace(startAt); value != "" {
		step, err := status.ParseStep(value)
		if err != nil {
			return opts, err
		}
		opts.Resume.StartAt = step
	}
	if value := strings.TrimSpace(returnStatus); value != "" {
		s, ok := status.Parse(value)
		if !ok {
			return opts, fmt.Errorf("%w: unknown status %q", workflow.ErrInvalidReturnStatus, value)
		}
		opts.Resume.ReturnStatus = s
	}
	return opts, nil
}

func printOutcome(out io.Writer, outcome api.Outcome) {
	colorize := shouldColorize(out)
	message := formatStatusLabel(outcome.Status)
	if outcome.Reason != "" {
		message += " - " + outcome.Reason
	}
	label := fmt.Sprintf("Item %d", outcome.ItemID)
	fmt.Fprintln(out, renderStatusLine(label, resultKind(outcome.Result), outcome.Result+": "+message, colorize))
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var skipThumbnail bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Sweep stuck items and enrich ready items once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				report, err := rt.Batch.Run(c, workflow.BatchOptions{
					Limit:         limit,
					Actor:         queue.ActorCLI,
					SkipThumbnail: skipThumbnail,
				})
				if err != nil {
					return err
				}
				view := api.FromBatchReport(report)
				if asJSON {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				for _, item := range view.Items {
					printOutcome(out, item)
				}
				fmt.Fprintf(out, "Swept %d, selected %d: %d completed, %d rejected, %d failed, %d retrying, %d aborted\n",
					view.Swept, view.Selected, view.Completed, view.Rejected, view.Failed, view.Retried, view.Aborted)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum items to process (default workflow.batch_limit)")
	cmd.Flags().BoolVar(&skipThumbnail, "skip-thumbnail", false, "Skip the thumbnail step")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "discover <feed-url>",
		Short: "Enqueue entries from an RSS or Atom feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				report, err := rt.Intake.Discover(c, args[0], limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d seen, %d enqueued, %d duplicate, %d published, %d invalid\n",
					report.Feed, report.Seen, report.Enqueued, report.Duplicates, report.Published, report.Invalid)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum feed entries to consider")
	return cmd
}
