package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"crmsync/backend"
	completion "crmsync/internal/cli"
	"crmsync/internal/config"
	"crmsync/internal/utils"
	"crmsync/internal/views"
)

// outputTo writes data to the command's stdout in the selected format.
func outputTo(cmd *cobra.Command, format string, data interface{}, text func(io.Writer) error) error {
	return utils.Output(cmd.OutOrStdout(), format, data, text)
}

func kindNames() []string {
	kinds := backend.AllKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

func parseKind(s string) (backend.Kind, error) {
	kind, err := backend.ParseKind(strings.ToLower(s))
	if err != nil {
		return "", utils.ErrInvalidKind(s, kindNames())
	}
	return kind, nil
}

func parseKinds(args []string) ([]backend.Kind, error) {
	kinds := make([]backend.Kind, 0, len(args))
	for _, arg := range args {
		kind, err := parseKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// notFound turns a store ErrNotFound into a user-facing error.
func notFound(err error, kind backend.Kind, id string) error {
	if errors.Is(err, backend.ErrNotFound) {
		return utils.ErrEntityNotFound(string(kind), id)
	}
	return err
}

// fieldTypes maps the JSON field names a user may set on kind to their Go
// kinds. Sync fields and nested values are excluded.
func fieldTypes(kind backend.Kind) (map[string]reflect.Kind, error) {
	e, err := backend.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeOf(e).Elem()
	types := make(map[string]reflect.Kind, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		switch k := f.Type.Kind(); k {
		case reflect.String, reflect.Float64, reflect.Int64:
			types[name] = k
		}
	}
	return types, nil
}

// parseFields converts field=value arguments into typed values for kind.
func parseFields(kind backend.Kind, args []string) (map[string]any, error) {
	types, err := fieldTypes(kind)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, expected name=value", arg)
		}
		typ, known := types[name]
		if !known {
			return nil, utils.WrapWithSuggestion(
				fmt.Errorf("unknown %s field %q", kind, name),
				"Valid fields: "+strings.Join(sortedKeys(types), ", "),
			)
		}
		switch typ {
		case reflect.Float64:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %q is not a number", name, value)
			}
			fields[name] = f
		case reflect.Int64:
			n, err := parseTimestamp(value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			fields[name] = n
		default:
			fields[name] = value
		}
	}
	return fields, validateFields(kind, fields)
}

// parseTimestamp accepts epoch millis or a YYYY-MM-DD date.
func parseTimestamp(value string) (int64, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	t, err := utils.ParseDateFlag(value)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, nil
	}
	return t.UnixMilli(), nil
}

func validateFields(kind backend.Kind, fields map[string]any) error {
	if email, ok := fields["email"].(string); ok && kind == backend.KindContact {
		if err := utils.ValidateEmail(email); err != nil {
			return err
		}
	}
	if amount, ok := fields["amount"].(float64); ok {
		if err := utils.ValidateAmount(amount); err != nil {
			return err
		}
	}
	if p, ok := fields["priority"].(string); ok && kind == backend.KindTicket {
		normalized, err := utils.NormalizeTicketPriority(p)
		if err != nil {
			return err
		}
		fields["priority"] = normalized
	}
	if t, ok := fields["type"].(string); ok && kind == backend.KindActivity {
		for _, at := range backend.AllActivityTypes() {
			if t == string(at) {
				return nil
			}
		}
		return fmt.Errorf("invalid activity type %q", t)
	}
	return nil
}

func sortedKeys(m map[string]reflect.Kind) []string {
	return slices.Sorted(maps.Keys(m))
}

// entityCompletion completes "<kind> <id>" from the local store.
func (c *cli) entityCompletion() func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	open := func() (completion.EntityLister, func(), error) {
		config.SetCustomConfigPath(c.configPath)
		a, err := c.load()
		if err != nil {
			return nil, nil, err
		}
		return a.Store(), c.close, nil
	}
	return completion.SmartCompletion(open, views.Title)
}
