package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/kprefs/internal/schema"
)

// BindingValue is one binding's current value as printed by get and list.
type BindingValue struct {
	Name     string `json:"name,omitempty"`
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Nullable bool   `json:"nullable,omitempty"`
	Value    any    `json:"value"`
	Display  string `json:"display"`
	// Stored is false when the value is the binding's default or null.
	Stored bool `json:"stored"`
}

// Text prints the value alone so get composes with shell scripts.
func (b BindingValue) Text() string {
	return b.Display + "\n"
}

func bindingValue(e schema.Entry, r schema.Reading, stored bool) BindingValue {
	d := e.Decl()
	return BindingValue{
		Name:     d.Name,
		Key:      e.Key(),
		Kind:     d.Kind.String(),
		Nullable: d.Nullable,
		Value:    r.Interface(),
		Display:  r.String(),
		Stored:   stored,
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a binding's current value",
		Long: `Print the current value of a declared binding.

Absent keys read as the binding's default, or "null" for nullable bindings.

Examples:
  kprefs get premium --schema prefs.cue
  kprefs get age --backend redis --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
}

func runGet(opts *RootOptions, name string, cmd *cobra.Command) error {
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

	e, err := s.entry(f, name)
	if err != nil {
		return err
	}
	r, err := e.Get(ctx)
	if err != nil {
		return storeFailure(f, "failed to read "+name, err)
	}
	stored, err := s.store.Contains(ctx, e.Key())
	if err != nil {
		return storeFailure(f, "failed to read "+name, err)
	}
	return f.Success(bindingValue(e, r, stored))
}
