package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kprefs/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	Source   string                   `json:"source"`
	Bindings []string                 `json:"bindings,omitempty"`
	Errors   []schema.ValidationError `json:"errors,omitempty"`
}

func (v ValidationResult) Text() string {
	if v.Valid {
		return fmt.Sprintf("✓ %s: %d binding(s) valid\n", v.Source, len(v.Bindings))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "✗ %s: %d error(s)\n", v.Source, len(v.Errors))
	for _, e := range v.Errors {
		fmt.Fprintf(&sb, "  %s\n", e.Error())
	}
	return sb.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema>",
		Short: "Validate a binding schema",
		Long: `Validate binding declarations without touching any store.

Accepts a .cue file, a .yaml/.yml file or a directory holding a CUE
package. Every declaration is checked (kind, default and nullability, key
validity, conflicting kinds on a shared key); all errors are reported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := schema.Load(path)
	if err != nil {
		return outputValidateError(f, path, err)
	}

	f.VerboseLog("loaded %d declaration(s) from %s", len(s.Decls), path)
	result := ValidationResult{Valid: true, Source: path}
	for _, d := range s.Decls {
		result.Bindings = append(result.Bindings, d.Name)
	}
	return f.Success(result)
}

func outputValidateError(f *OutputFormatter, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "schema not found: "+path, err)
	}

	result := ValidationResult{Valid: false, Source: path}
	var loadErr *schema.LoadError
	var compileErr *schema.CompileError
	switch {
	case errors.As(err, &loadErr):
		result.Errors = loadErr.Errors
	case errors.As(err, &compileErr):
		ve := schema.ValidationError{
			Field:   compileErr.Field,
			Message: compileErr.Message,
			Code:    ErrCodeSchema,
		}
		if compileErr.Pos.IsValid() {
			ve.Line = compileErr.Pos.Line()
		}
		result.Errors = []schema.ValidationError{ve}
	default:
		result.Errors = []schema.ValidationError{{Field: "schema", Message: err.Error(), Code: ErrCodeSchema}}
	}

	if f.Format == "json" {
		if outErr := f.Error(ErrCodeSchema, "schema validation failed", result); outErr != nil {
			return outErr
		}
	} else if _, outErr := fmt.Fprint(f.Writer, result.Text()); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("[%s] schema validation failed", ErrCodeSchema), err)
}
