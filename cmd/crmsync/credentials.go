package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crmsync/internal/config"
	"crmsync/internal/credentials"
	"crmsync/internal/utils"
)

// resolver is replaced in tests to skip the system keyring.
var resolver = credentials.NewResolver

func newCredentialsCmd(c *cli) *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the HubSpot access token",
		Long: `Securely manage the HubSpot private app token using the system keyring.

The token is looked up in this order:
  1. System keyring (most secure) - recommended
  2. Environment variable CRMSYNC_HUBSPOT_TOKEN (good for CI/CD)
  3. hubspot.token in the config file (least secure)

Without a token crmsync runs against a local demo CRM.

Examples:
  # Store the token in the keyring (prompts without echo)
  crmsync credentials set

  # Show where the token comes from
  crmsync credentials show

  # Remove the token from the keyring
  crmsync credentials delete`,
	}

	cmd.PersistentFlags().StringVar(&profile, "profile", "", "credential profile (default from config)")

	cmd.AddCommand(newCredentialsSetCmd(c, &profile))
	cmd.AddCommand(newCredentialsShowCmd(c, &profile))
	cmd.AddCommand(newCredentialsDeleteCmd(c, &profile))

	return cmd
}

// profileConfig loads the config and applies a --profile override.
func profileConfig(c *cli, profile string) (*config.Config, string, error) {
	cfg, err := config.LoadCurrent()
	if err != nil {
		return nil, "", err
	}
	if profile == "" {
		profile = cfg.Profile
	}
	return cfg, profile, nil
}

func newCredentialsSetCmd(c *cli, profile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store the access token in the system keyring",
		Long: `Store the HubSpot access token in the system keyring.

Without an argument the token is read interactively (recommended, it stays
out of shell history) or from piped stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, name, err := profileConfig(c, *profile)
			if err != nil {
				return err
			}

			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				token, err = utils.PromptSecret(fmt.Sprintf("Enter HubSpot token for %s: ", name))
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
			}
			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}

			if err := credentials.Set(name, token); err != nil {
				if !credentials.IsAvailable() {
					return utils.WrapWithSuggestion(
						fmt.Errorf("system keyring is not available: %w", err),
						"Use an environment variable instead:\n  export "+credentials.EnvVarName(name)+"=<token>",
					)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token stored in keyring for profile %s\n", name)
			fmt.Fprintln(cmd.OutOrStdout(), "  Test the connection: crmsync status")
			return nil
		},
	}
}

type credentialStatus struct {
	Profile string             `json:"profile" yaml:"profile"`
	Source  credentials.Source `json:"source" yaml:"source"`
	Token   string             `json:"token,omitempty" yaml:"token,omitempty"`
}

func newCredentialsShowCmd(c *cli, profile *string) *cobra.Command {
	return &cobra.Command{
		Use:     "show",
		Aliases: []string{"get"},
		Short:   "Show which token source is in use",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			cfg, name, err := profileConfig(c, *profile)
			if err != nil {
				return err
			}
			creds, err := resolver().Resolve(name, cfg.HubSpot.Token)
			if err != nil {
				return err
			}

			status := credentialStatus{Profile: creds.Profile, Source: creds.Source, Token: creds.Masked()}
			return outputTo(cmd, format, status, func(w io.Writer) error {
				if creds.Source == credentials.SourceNone {
					fmt.Fprintf(w, "⚠ No token found for profile %s, using the demo CRM\n", name)
					fmt.Fprintln(w, "  Store one with: crmsync credentials set")
					return nil
				}
				fmt.Fprintf(w, "✓ Token for profile %s found in %s: %s\n", creds.Profile, creds.Source, creds.Masked())
				return nil
			})
		},
	}
}

func newCredentialsDeleteCmd(c *cli, profile *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the access token from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, name, err := profileConfig(c, *profile)
			if err != nil {
				return err
			}
			if !force && !utils.PromptYesNo(fmt.Sprintf("Remove the keyring token for %s?", name)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := credentials.Delete(name); err != nil {
				if errors.Is(err, credentials.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No keyring token stored for %s\n", name)
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token removed from keyring for %s\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}
