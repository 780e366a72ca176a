package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ListResult holds the output of list.
type ListResult struct {
	Namespace string         `json:"namespace"`
	Bindings  []BindingValue `json:"bindings"`
}

func (l ListResult) Text() string {
	if len(l.Bindings) == 0 {
		return fmt.Sprintf("No values in namespace %s.\n", l.Namespace)
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKEY\tKIND\tVALUE\tSOURCE")
	for _, b := range l.Bindings {
		source := "stored"
		if !b.Stored {
			source = "default"
		}
		name := b.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, b.Key, b.Kind, b.Display, source)
	}
	w.Flush()
	return sb.String()
}

// ResetResult reports a reset.
type ResetResult struct {
	Namespace string   `json:"namespace"`
	Removed   []string `json:"removed"`
}

func (r ResetResult) Text() string {
	return fmt.Sprintf("Cleared %d key(s) from namespace %s.\n", len(r.Removed), r.Namespace)
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bindings and their values",
		Long: `List every declared binding with its current value and whether it is
stored or falls back to its default.

Without a schema, list prints the raw keys stored in the namespace.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Remove every key in the namespace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := loadConfig(f, opts, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := openSession(ctx, f, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	result := ListResult{Namespace: cfg.Namespace, Bindings: []BindingValue{}}

	if s.registry == nil {
		keys, err := s.store.Keys(ctx)
		if err != nil {
			return storeFailure(f, "failed to list keys", err)
		}
		for _, key := range keys {
			v, ok, err := s.store.Load(ctx, key)
			if err != nil {
				return storeFailure(f, "failed to read "+key, err)
			}
			if !ok {
				continue
			}
			result.Bindings = append(result.Bindings, BindingValue{
				Key:     key,
				Kind:    v.Kind.String(),
				Value:   v.Interface(),
				Display: v.String(),
				Stored:  true,
			})
		}
		return f.Success(result)
	}

	for _, name := range s.registry.Names() {
		e, _ := s.registry.Lookup(name)
		r, err := e.Get(ctx)
		if err != nil {
			return storeFailure(f, "failed to read "+name, err)
		}
		stored, err := s.store.Contains(ctx, e.Key())
		if err != nil {
			return storeFailure(f, "failed to read "+name, err)
		}
		result.Bindings = append(result.Bindings, bindingValue(e, r, stored))
	}
	return f.Success(result)
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg, err := loadConfig(f, opts, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := openSession(ctx, f, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	keys, err := s.store.Keys(ctx)
	if err != nil {
		return storeFailure(f, "failed to list keys", err)
	}
	if err := s.store.Edit().Clear().Commit(ctx); err != nil {
		return storeFailure(f, "failed to clear namespace", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return f.Success(ResetResult{Namespace: cfg.Namespace, Removed: keys})
}
