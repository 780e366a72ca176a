package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// WriteResult reports a set or unset.
type WriteResult struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Display string `json:"display"`
	Removed bool   `json:"removed,omitempty"`
}

func (w WriteResult) Text() string {
	if w.Removed {
		return fmt.Sprintf("unset %s (now %s)\n", w.Name, w.Display)
	}
	return fmt.Sprintf("%s = %s\n", w.Name, w.Display)
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Write a binding's value",
		Long: `Parse value in the binding's kind and write it.

Booleans accept true/false, numbers are decimal, and string sets are
comma-separated ("a,b,c"; "" is the empty set).

Examples:
  kprefs set premium true
  kprefs set tags "beta,dark"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(rootOpts, args[0], args[1], cmd)
		},
	}
}

// NewUnsetCommand creates the unset command.
func NewUnsetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <name>",
		Short: "Remove a binding's key",
		Long: `Remove a binding's key from the store. Readers then see the
binding's default, or null for nullable bindings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnset(rootOpts, args[0], cmd)
		},
	}
}

func runSet(opts *RootOptions, name, raw string, cmd *cobra.Command) error {
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
	if err := e.Set(ctx, raw); err != nil {
		return storeFailure(f, fmt.Sprintf("failed to set %s", name), err)
	}
	r, err := e.Get(ctx)
	if err != nil {
		return storeFailure(f, "failed to read back "+name, err)
	}
	return f.Success(WriteResult{Name: name, Key: e.Key(), Display: r.String()})
}

func runUnset(opts *RootOptions, name string, cmd *cobra.Command) error {
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
	if err := e.Unset(ctx); err != nil {
		return storeFailure(f, "failed to unset "+name, err)
	}
	r, err := e.Get(ctx)
	if err != nil {
		return storeFailure(f, "failed to read back "+name, err)
	}
	return f.Success(WriteResult{Name: name, Key: e.Key(), Display: r.String(), Removed: true})
}
