package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"crmsync/backend"
	completion "crmsync/internal/cli"
	"crmsync/internal/utils"
	"crmsync/internal/views"
)

// newListCmd creates the list command
func newListCmd(c *cli) *cobra.Command {
	var (
		pending bool
		limit   int
		where   []string
	)

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List local records of one kind",
		Long: `List the local copy of contacts, companies, deals, tickets or activities,
most recently updated first. Reads never touch the network.

Examples:
  crmsync list contacts
  crmsync list deals --where stage=appointmentscheduled
  crmsync list contacts --pending -o json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.KindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := c.format()
			if err != nil {
				return err
			}
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}

			filter := &backend.EntityFilter{Limit: limit}
			if pending {
				filter.Statuses = []backend.SyncStatus{
					backend.StatusPendingCreate, backend.StatusPendingUpdate, backend.StatusPendingDelete,
				}
				filter.IncludeDeleted = true
			}
			if len(where) > 0 {
				filter.Where = make(map[string]string, len(where))
				for _, w := range where {
					k, v, ok := strings.Cut(w, "=")
					if !ok {
						return fmt.Errorf("invalid --where %q, expected field=value", w)
					}
					filter.Where[k] = v
				}
			}

			a, err := c.load()
			if err != nil {
				return err
			}
			entities, err := a.Store().ListEntities(cmd.Context(), kind, filter)
			if err != nil {
				return err
			}
			return outputTo(cmd, format, entities, func(w io.Writer) error {
				_, err := io.WriteString(w, views.RenderEntities(kind, entities))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "show only records with unsynced changes")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().StringArrayVar(&where, "where", nil, "filter on an indexed field (field=value, repeatable)")
	return cmd
}

// newAddCmd creates the add command
func newAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add <kind> field=value...",
		Short: "Create a record locally and queue it for HubSpot",
		Long: `Create a record in the local store and queue it. The record gets a local id
that is replaced by the HubSpot id once it syncs; references to it from
other queued records are updated at the same time.

Examples:
  crmsync add company name=Acme domain=acme.com
  crmsync add deal name="Acme renewal" amount=1200 companyId=<id>
  crmsync add activity type=note body="Called about renewal" contactId=<id>`,
		Args:              cobra.MinimumNArgs(2),
		ValidArgsFunction: completion.KindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			fields, err := parseFields(kind, args[1:])
			if err != nil {
				return err
			}
			entity, err := buildEntity(kind, fields)
			if err != nil {
				return err
			}
			return stageCreate(cmd, c, entity)
		},
	}
}

// buildEntity assembles a new entity from parsed fields.
func buildEntity(kind backend.Kind, fields map[string]any) (backend.Entity, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	e, err := backend.DecodeEntity(kind, data)
	if err != nil {
		return nil, err
	}
	return e, requireFields(e)
}

// requireFields checks the minimum each kind needs before HubSpot accepts it.
func requireFields(e backend.Entity) error {
	switch v := e.(type) {
	case *backend.Contact:
		if v.FirstName == "" && v.LastName == "" && v.Email == "" {
			return fmt.Errorf("a contact needs a name or an email")
		}
	case *backend.Company:
		if v.Name == "" {
			return fmt.Errorf("a company needs a name")
		}
	case *backend.Deal:
		if v.Name == "" {
			return fmt.Errorf("a deal needs a name")
		}
	case *backend.Ticket:
		if v.Subject == "" {
			return fmt.Errorf("a ticket needs a subject")
		}
	case *backend.Activity:
		if v.Type == "" {
			v.Type = backend.ActivityNote
		}
	}
	return nil
}

func stageCreate(cmd *cobra.Command, c *cli, e backend.Entity) error {
	format, err := c.format()
	if err != nil {
		return err
	}
	a, err := c.load()
	if err != nil {
		return err
	}
	queueID, err := a.Store().StageCreate(cmd.Context(), e)
	if err != nil {
		return err
	}
	a.AfterWrite()

	return outputTo(cmd, format, e, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ Created %s %q (%s), queued as #%d\n",
			e.EntityKind(), views.Title(e), e.Meta().ID, queueID)
		return err
	})
}

// newContactCmd creates the contact command with flag based shortcuts
func newContactCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Contact shortcuts",
	}

	var (
		contact backend.Contact
		company string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a contact",
		Example: `  crmsync contact add --first Jane --last Doe --email jane@example.com
  crmsync contact add --email ops@acme.com --company <company-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateEmail(contact.Email); err != nil {
				return err
			}
			e := contact
			e.CompanyID = company
			if err := requireFields(&e); err != nil {
				return err
			}
			return stageCreate(cmd, c, &e)
		},
	}
	add.Flags().StringVar(&contact.FirstName, "first", "", "first name")
	add.Flags().StringVar(&contact.LastName, "last", "", "last name")
	add.Flags().StringVar(&contact.Email, "email", "", "email address")
	add.Flags().StringVar(&contact.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&contact.JobTitle, "title", "", "job title")
	add.Flags().StringVar(&company, "company", "", "associated company id")

	cmd.AddCommand(add)
	return cmd
}

// newUpdateCmd creates the update command
func newUpdateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update <kind> <id> field=value...",
		Short: "Change fields of a record and queue the change",
		Long: `Apply field changes locally and queue an update carrying only the changed
fields. Records waiting to be deleted cannot be updated.

Examples:
  crmsync update contact <id> phone=+15551234 jobTitle=CTO
  crmsync update ticket <id> priority=high`,
		Args:              cobra.MinimumNArgs(3),
		ValidArgsFunction: c.entityCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			id := args[1]
			fields, err := parseFields(kind, args[2:])
			if err != nil {
				return err
			}
			a, err := c.load()
			if err != nil {
				return err
			}

			queueID, err := a.Store().StageUpdate(cmd.Context(), kind, id, fields)
			if errors.Is(err, backend.ErrEntityDeleted) {
				return utils.WrapWithSuggestion(err,
					"Discard the queued delete with 'crmsync queue discard <id>' to edit this record")
			}
			if err != nil {
				return notFound(err, kind, id)
			}
			a.AfterWrite()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated %s %s, queued as #%d\n", kind, id, queueID)
			return nil
		},
	}
}

// newDeleteCmd creates the delete command
func newDeleteCmd(c *cli) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Delete a record locally and queue the delete",
		Long: `Hide a record locally and queue its deletion. The local row is removed
once HubSpot confirms the delete.`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: c.entityCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			id := args[1]
			a, err := c.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := a.Store().GetEntity(ctx, kind, id)
			if err != nil {
				return notFound(err, kind, id)
			}
			if !force && !utils.PromptYesNo(fmt.Sprintf("Delete %s %q?", kind, views.Title(e))) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			queueID, err := a.Store().StageDelete(ctx, kind, id)
			if errors.Is(err, backend.ErrEntityDeleted) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is already waiting to be deleted\n", kind, id)
				return nil
			}
			if err != nil {
				return notFound(err, kind, id)
			}
			a.AfterWrite()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s %s, queued as #%d\n", kind, id, queueID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}
