package main

import (
	"time"

	"github.com/spf13/cobra"

	"crmsync/internal/sync"
	"crmsync/internal/utils"
)

// newBackgroundSyncCmd creates a hidden command that runs sync in background
// This is spawned as a separate process to allow the main CLI to exit immediately
func newBackgroundSyncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:    sync.BackgroundSyncCommand,
		Hidden: true, // Don't show in help
		Short:  "Internal command for background sync (do not call directly)",
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				utils.Debugf("Background sync: %v", err)
				return nil // Silent fail
			}

			// Give it a moment to ensure parent process has exited
			time.Sleep(100 * time.Millisecond)

			if err := a.RunBackgroundSync(cmd.Context()); err != nil {
				utils.Debugf("Background sync: %v", err)
			}
			return nil
		},
	}

	return cmd
}
