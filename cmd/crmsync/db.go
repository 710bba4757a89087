package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crmsync/backend"
	"crmsync/internal/utils"
)

type dbInfo struct {
	Path          string `json:"path" yaml:"path"`
	SchemaVersion int    `json:"schemaVersion" yaml:"schemaVersion"`

	backend.DatabaseStats `yaml:",inline"`
}

// newDBCmd creates the db command group
func newDBCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or compact the local database",
	}
	cmd.AddCommand(newDBStatsCmd(c), newDBVacuumCmd(c))
	return cmd
}

func newDBStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record and queue counts of the local database",
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

			stats, err := a.Store().Stats()
			if err != nil {
				return err
			}
			version, err := a.Store().DB().GetSchemaVersion()
			if err != nil {
				return err
			}
			info := dbInfo{Path: a.Store().DB().Path(), SchemaVersion: version, DatabaseStats: stats}
			return outputTo(cmd, format, info, func(w io.Writer) error {
				fmt.Fprintf(w, "Database: %s (schema v%d)\n", info.Path, info.SchemaVersion)
				fmt.Fprintln(w, stats.String())
				if stats.PendingEntities > 0 {
					fmt.Fprintf(w, "%d records have unsynced changes\n", stats.PendingEntities)
				}
				return nil
			})
		},
	}
}

func newDBVacuumCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim unused space in the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load()
			if err != nil {
				return err
			}
			db := a.Store().DB()
			if err := utils.LogOperation("vacuum "+db.Path(), db.Vacuum); err != nil {
				return fmt.Errorf("failed to vacuum database: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Vacuumed %s\n", db.Path())
			return nil
		},
	}
}
