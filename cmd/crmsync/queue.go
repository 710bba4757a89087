package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"crmsync/backend"
	"crmsync/internal/utils"
	"crmsync/internal/views"
)

// newQueueCmd creates the queue command group
func newQueueCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued changes",
		Long: `Every local change is recorded in the queue until HubSpot confirms it.
Failed items stay in the queue with their error until retried or discarded.`,
	}
	cmd.AddCommand(
		newQueueListCmd(c),
		newQueueRetryCmd(c),
		newQueueDiscardCmd(c),
	)
	return cmd
}

func newQueueListCmd(c *cli) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued changes, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}

			var items []backend.QueueItem
			if failedOnly {
				items, err = a.Store().Queue().ListFailed(cmd.Context())
			} else {
				items, err = a.Store().Queue().List(cmd.Context())
			}
			if err != nil {
				return err
			}
			return outputTo(cmd, format, items, func(w io.Writer) error {
				_, err := io.WriteString(w, views.RenderQueue(items))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "show only failed items")
	return cmd
}

func parseQueueID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid queue item id %q", s)
	}
	return id, nil
}

func queueNotFound(err error, id int64) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return utils.ErrQueueItemNotFound(id)
	case errors.Is(err, backend.ErrItemInFlight):
		return utils.ErrQueueItemInFlight(id)
	}
	return err
}

func newQueueRetryCmd(c *cli) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [id]",
		Short: "Move failed items back to pending",
		Long: `Move a failed item (or all failed items with --all) back to pending. The
item keeps its original place in the queue.

Examples:
  crmsync queue retry 42
  crmsync queue retry --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all does not take an id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("requires a queue item id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if all {
				n, err := a.Store().Queue().RequeueAllFailed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Requeued %d failed items\n", n)
			} else {
				id, err := parseQueueID(args[0])
				if err != nil {
					return err
				}
				if err := a.Store().Queue().Requeue(ctx, id); err != nil {
					return queueNotFound(err, id)
				}
				fmt.Fprintf(out, "✓ Requeued item #%d\n", id)
			}
			a.AfterWrite()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "requeue every failed item")
	return cmd
}

func newQueueDiscardCmd(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "discard <id>",
		Short: "Drop a queued change without sending it",
		Long: `Drop a queued change permanently. A discarded create removes the local
record; a discarded update or delete marks the record synced again unless
other changes for it are still queued.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseQueueID(args[0])
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			item, err := a.Store().Queue().Get(ctx, id)
			if err != nil {
				return queueNotFound(err, id)
			}
			if !yes {
				prompt := fmt.Sprintf("Discard %s of %s %s?", item.Op, item.Kind, item.EntityID)
				if !utils.PromptYesNo(prompt) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}
			if err := a.Store().Queue().Discard(ctx, id); err != nil {
				return queueNotFound(err, id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Discarded item #%d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
