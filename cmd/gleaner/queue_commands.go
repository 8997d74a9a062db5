package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/api"
	"gleaner/internal/daemonrun"
	"gleaner/internal/intake"
	"gleaner/internal/queue"
	"gleaner/internal/status"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the enrichment queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueSweepCommand(ctx))
	queueCmd.AddCommand(newQueueForgetRawCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				stats, err := api.NewQueueService(rt.Store, rt.Runs).Stats(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}
				printTable(cmd.OutOrStdout(),
					[]string{"Status", "Count"},
					buildQueueStatusRows(stats, all),
					[]columnAlignment{alignLeft, alignRight},
					"Queue is empty",
				)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include statuses with no items")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var entryType string
	var search string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := api.ParseStatusFilter(statuses)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				items, err := api.NewQueueService(rt.Store, rt.Runs).List(c, queue.ListFilter{
					Statuses:  filter,
					EntryType: queue.EntryType(strings.TrimSpace(entryType)),
					Search:    strings.TrimSpace(search),
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				printTable(cmd.OutOrStdout(),
					[]string{"ID", "Title", "Status", "Attempts", "Discovered"},
					buildQueueListRows(items, rt.Config.Workflow.MaxAttempts),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
					"Queue is empty",
				)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status or phase (repeatable, comma separated)")
	cmd.Flags().StringVar(&entryType, "entry-type", "", "Filter by entry type (discovered, manual)")
	cmd.Flags().StringVarP(&search, "search", "q", "", "Match URL or title")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum items to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item with its runs and status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				detail, err := api.NewQueueService(rt.Store, rt.Runs).Detail(c, ids[0])
				if errors.Is(err, queue.ErrNotFound) {
					return fmt.Errorf("item %d not found", ids[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				renderItemDetail(cmd, detail, rt.Config.Workflow.MaxAttempts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderItemDetail(cmd *cobra.Command, detail *api.ItemDetail, maxAttempts int) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	item := detail.Item

	for _, line := range renderSectionHeader(fmt.Sprintf("Item %d", item.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderField("Title", api.ItemTitle(item)))
	fmt.Fprintln(out, renderField("URL", item.URL))
	fmt.Fprintln(out, renderField("Status", fmt.Sprintf("%s (%s)", formatStatusLabel(item.Status), item.Phase)))
	fmt.Fprintln(out, renderField("Entry type", item.EntryType))
	fmt.Fprintln(out, renderField("Attempts", api.AttemptsLabel(item.Attempts, maxAttempts)))
	fmt.Fprintln(out, renderField("Discovered", formatDisplayTime(item.DiscoveredAt)))
	fmt.Fprintln(out, renderField("Updated", formatDisplayTime(item.UpdatedAt)+" by "+item.UpdatedBy))
	if item.RejectionReason != "" {
		kind := statusWarn
		if item.PermanentFailure {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine("Reason", kind, item.RejectionReason, colorize))
	}
	if item.RawDeleted {
		fmt.Fprintln(out, renderStatusLine("Raw content", statusInfo, "forgotten", colorize))
	}

	printSection(out, "Runs", colorize)
	printTable(out,
		[]string{"Run", "Trigger", "Status", "Started", "Steps", "Error"},
		buildRunRows(detail.Runs),
		[]columnAlignment{alignRight},
		"No runs recorded",
	)

	printSection(out, "History", colorize)
	printTable(out,
		[]string{"When", "From", "To", "Actor", "Manual"},
		buildHistoryRows(detail.History),
		nil,
		"No history recorded",
	)
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var title string
	var description string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Submit a URL for enrichment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				item, err := rt.Intake.Add(c, intake.Candidate{
					URL:       args[0],
					EntryType: queue.EntryManual,
					Payload:   queue.Payload{Title: strings.TrimSpace(title), Description: strings.TrimSpace(description)},
					Actor:     queue.ActorCLI,
				})
				switch {
				case errors.Is(err, queue.ErrDuplicateURL):
					return fmt.Errorf("%s is already queued", args[0])
				case errors.Is(err, queue.ErrAlreadyPublished):
					return fmt.Errorf("%s was already published", args[0])
				case err != nil:
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued item %d (%s)\n", item.ID, item.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Title to use until the page is fetched")
	cmd.Flags().StringVar(&description, "description", "", "Short description")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Return failed items to pending",
		Long:  "Return failed items to pending with a fresh attempt budget. Without IDs every failed item is retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				if len(ids) == 0 {
					failed, err := rt.Store.List(c, queue.ListFilter{Statuses: []status.Status{status.Failed}})
					if err != nil {
						return err
					}
					for _, item := range failed {
						ids = append(ids, item.ID)
					}
				}
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					fmt.Fprintln(out, "No failed items")
					return nil
				}
				result, err := api.RetryFailedItemsByID(c, rt.Store, queue.ActorCLI, ids)
				if err != nil {
					return err
				}
				for _, item := range result.Items {
					switch item.Outcome {
					case api.RetryItemNotFound:
						fmt.Fprintf(out, "Item %d not found\n", item.ID)
					case api.RetryItemNotFailed:
						fmt.Fprintf(out, "Item %d is not failed\n", item.ID)
					default:
						fmt.Fprintf(out, "Item %d returned to %s\n", item.ID, item.NewStatus)
					}
				}
				fmt.Fprintf(out, "Retried %d item(s)\n", result.UpdatedCount)
				return nil
			})
		},
	}
}

func newQueueSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reset items stuck in a working status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				reset, err := rt.Sweeper.ResetStuckWorkingStates(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d stuck item(s)\n", reset)
				return nil
			})
		},
	}
}

func newQueueForgetRawCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget-raw <id...>",
		Short: "Mark stored raw content as deleted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *daemonrun.Runtime) error {
				result, err := api.ForgetRawByID(c, rt.Store, queue.ActorCLI, ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, item := range result.Items {
					fmt.Fprintf(out, "Item %d: %s\n", item.ID, strings.ReplaceAll(string(item.Outcome), "_", " "))
				}
				return nil
			})
		},
	}
}
