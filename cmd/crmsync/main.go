package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crmsync/internal/app"
	"crmsync/internal/config"
	"crmsync/internal/utils"
)

// newApp is replaced in tests to inject a fake remote.
var newApp = func(cfg *config.Config) (*app.App, error) {
	return app.NewApp(cfg)
}

// cli carries the global flags and the lazily built App.
type cli struct {
	configPath string
	verbose    bool
	output     string
	app        *app.App
}

// load reads configuration and builds the App once per invocation.
func (c *cli) load() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := config.LoadCurrent()
	if err != nil {
		return nil, err
	}
	if c.verbose {
		cfg.Log.Verbose = true
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) format() (string, error) {
	return utils.ParseOutputFormat(c.output)
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Shutdown()
		c.app = nil
	}
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "crmsync",
		Short: "Offline-first HubSpot CRM sync",
		Long: `crmsync keeps a local copy of HubSpot contacts, companies, deals, tickets
and activities. Changes are written locally first and queued; queued changes
are pushed to HubSpot in order whenever it is reachable.

Without a HubSpot token an in-memory demo CRM is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.SetVerboseMode(c.verbose)
			config.SetCustomConfigPath(c.configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/crmsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(
		newSyncCmd(c),
		newRefreshCmd(c),
		newStatusCmd(c),
		newWatchCmd(c),
		newDaemonCmd(c),
		newQueueCmd(c),
		newDBCmd(c),
		newListCmd(c),
		newAddCmd(c),
		newContactCmd(c),
		newUpdateCmd(c),
		newDeleteCmd(c),
		newCredentialsCmd(c),
		newConfigCmd(c),
		newBackgroundSyncCmd(c),
	)
	return rootCmd, c
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	rootCmd, c := newRootCmd()
	ctx, cancel := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
