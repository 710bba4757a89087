package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"crmsync/backend"
	backendsync "crmsync/backend/sync"
	"crmsync/internal/sync"
	"crmsync/internal/views"
)

type syncOutput struct {
	Reconcile *backendsync.ReconcileResult `json:"reconcile,omitempty" yaml:"reconcile,omitempty"`
	Pass      *backendsync.PassResult      `json:"pass" yaml:"pass"`
}

// newSyncCmd creates the sync command
func newSyncCmd(c *cli) *cobra.Command {
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to HubSpot",
		Long: `Push every queued change to HubSpot, oldest first.

A change that fails stays in the queue as failed with the error message and
the pass moves on. Use 'crmsync queue retry' to try it again.

Examples:
  crmsync sync               # push pending changes
  crmsync sync --reconcile   # recover interrupted items first`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if err := a.Ping(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠ %v\n", err)
				return nil
			}

			out := syncOutput{}
			if reconcile {
				out.Reconcile, err = a.SyncManager().Reconcile(ctx)
				if err != nil {
					return fmt.Errorf("reconcile failed: %w", err)
				}
			}

			out.Pass, err = a.SyncManager().RunPass(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			return outputTo(cmd, format, out, func(w io.Writer) error {
				if out.Reconcile != nil {
					fmt.Fprintf(w, "Recovered %d interrupted items, requeued %d orphaned records\n",
						out.Reconcile.Reset, len(out.Reconcile.Requeued))
				}
				_, err := io.WriteString(w, views.RenderPassResult(out.Pass))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "reset interrupted items and requeue orphaned pending records first")
	return cmd
}

// newRefreshCmd creates the refresh command
func newRefreshCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [kind...]",
		Short: "Pull records from HubSpot into the local store",
		Long: `Fetch every record of the given kinds (all kinds by default) and replace
the local copies. Records with queued local changes are kept as they are.`,
		ValidArgs: kindNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			kinds, err := parseKinds(args)
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}

			stats, refreshErr := a.Refresh(cmd.Context(), kinds...)
			if err := outputTo(cmd, format, stats, func(w io.Writer) error {
				_, err := io.WriteString(w, views.RenderRefreshStats(stats))
				return err
			}); err != nil {
				return err
			}
			return refreshErr
		},
	}
}

// newStatusCmd creates the status command
func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			counts, err := a.Store().Queue().Counts(ctx)
			if err != nil {
				return err
			}
			st := sync.State{
				Online:       a.Ping(ctx) == nil,
				Syncing:      a.SyncManager().IsRunning(),
				PendingCount: counts.Eligible(),
				FailedCount:  counts.Failed,
				LastSyncTime: a.LastSyncTime(),
			}
			return outputTo(cmd, format, st, func(w io.Writer) error {
				_, err := io.WriteString(w, views.RenderState(st, time.Now()))
				if a.IsDemo() {
					fmt.Fprintln(w, "Mode:       demo (no HubSpot token configured)")
				}
				return err
			})
		},
	}
}

// newWatchCmd creates the watch command
func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show live sync status and push changes as they are queued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			sc, err := a.StartCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			states, unsubscribe := sc.Subscribe()
			defer unsubscribe()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			store := a.Store()
			queue := backend.Observe(ctx, store.Bus(), store.Queue().List, backend.CollectionQueue)
			return views.RunWatch(states, queue, sc.TriggerSync)
		},
	}
}
