package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"crmsync/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(c))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			if err := config.WriteSample(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "  Store your HubSpot token with: crmsync credentials set")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and CRMSYNC_*
environment overrides are applied. The token is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			cfg, err := config.LoadCurrent()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.HubSpot.Token != "" {
				shown.HubSpot.Token = "<set>"
			}
			return outputTo(cmd, format, shown, func(w io.Writer) error {
				if shown.Source != "" {
					fmt.Fprintf(w, "# %s\n", shown.Source)
				} else {
					fmt.Fprintln(w, "# defaults (no config file found)")
				}
				return yaml.NewEncoder(w).Encode(shown)
			})
		},
	}
}
