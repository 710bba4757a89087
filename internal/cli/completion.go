package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"crmsync/backend"
)

// EntityLister loads local records for completion.
type EntityLister interface {
	ListEntities(ctx context.Context, kind backend.Kind, filter *backend.EntityFilter) ([]backend.Entity, error)
}

// completionLimit caps how many ids are offered.
const completionLimit = 200

// KindCompletion completes the first argument with entity kinds.
func KindCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return matchKinds(toComplete), cobra.ShellCompDirectiveNoFileComp
}

func matchKinds(prefix string) []string {
	var completions []string
	for _, kind := range backend.AllKinds() {
		if strings.HasPrefix(string(kind), strings.ToLower(prefix)) {
			completions = append(completions, string(kind))
		}
	}
	return completions
}

// SmartCompletion completes "<kind> <id>" arguments: kinds first, then the
// ids of local records of that kind with their titles as descriptions.
// open is called lazily so plain kind completion never touches the store;
// the returned function releases it.
func SmartCompletion(open func() (EntityLister, func(), error), title func(backend.Entity) string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		// First argument: suggest kinds
		if len(args) == 0 {
			return matchKinds(toComplete), cobra.ShellCompDirectiveNoFileComp
		}

		// Third argument onwards: field=value pairs, nothing to offer
		if len(args) >= 2 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		kind, err := backend.ParseKind(strings.ToLower(args[0]))
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		lister, release, err := open()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer release()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		entities, err := lister.ListEntities(ctx, kind, &backend.EntityFilter{Limit: completionLimit})
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		for _, e := range entities {
			id := e.Meta().ID
			if !strings.HasPrefix(id, toComplete) {
				continue
			}
			if t := title(e); t != "" {
				id += "\t" + t
			}
			completions = append(completions, id)
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}
