package schema

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kprefs/internal/kv"
)

//go:embed definition.cue
var definitionCUE string

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// LoadCUE compiles a single CUE file.
func LoadCUE(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseCUE(path, data)
}

// ParseCUE compiles CUE source; filename is used in positions.
func ParseCUE(filename string, src []byte) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compile(ctx, filename, v)
}

// LoadCUEDir loads the CUE package in dir.
func LoadCUEDir(dir string) (*Schema, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compile(ctx, dir, v)
}

// compile unifies v with the embedded definitions and extracts bindings.
func compile(ctx *cue.Context, source string, v cue.Value) (*Schema, error) {
	defs := ctx.CompileString(definitionCUE, cue.Filename("definition.cue"))
	if err := defs.Err(); err != nil {
		return nil, fmt.Errorf("embedded definition: %w", err)
	}

	unified := v.Unify(defs)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{Source: source}
	bindings := unified.LookupPath(cue.ParsePath("binding"))
	if !bindings.Exists() {
		return s, nil
	}

	iter, err := bindings.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d, err := compileDecl(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Decls = append(s.Decls, d)
	}
	s.sort()
	return s, nil
}

func compileDecl(name string, v cue.Value) (Decl, error) {
	d := Decl{Name: name, Line: v.Pos().Line()}

	kindStr, err := v.LookupPath(cue.ParsePath("kind")).String()
	if err != nil {
		return d, formatCUEError(err)
	}
	if d.Kind, err = kv.ParseKind(kindStr); err != nil {
		return d, &CompileError{Field: "binding." + name + ".kind", Message: err.Error(), Pos: v.Pos()}
	}

	if d.Nullable, err = v.LookupPath(cue.ParsePath("nullable")).Bool(); err != nil {
		return d, formatCUEError(err)
	}

	if key := v.LookupPath(cue.ParsePath("key")); key.Exists() {
		if d.Key, err = key.String(); err != nil {
			return d, formatCUEError(err)
		}
	}

	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		val, err := cueValue(d.Kind, def)
		if err != nil {
			return d, &CompileError{Field: "binding." + name + ".default", Message: err.Error(), Pos: def.Pos()}
		}
		d.Default, d.HasDefault = val, true
	}
	return d, nil
}

// cueValue reads a concrete CUE value as the given kind.
func cueValue(kind kv.Kind, v cue.Value) (kv.Value, error) {
	switch kind {
	case kv.KindBool:
		b, err := v.Bool()
		return kv.BoolValue(b), err
	case kv.KindString:
		s, err := v.String()
		return kv.StringValue(s), err
	case kv.KindInt32, kv.KindInt64:
		n, err := v.Int64()
		if err != nil {
			return kv.Value{}, err
		}
		return kv.ValueOf(kind, n)
	case kv.KindFloat32:
		f, err := v.Float64()
		return kv.Float32Value(float32(f)), err
	case kv.KindStringSet:
		var set []string
		if err := v.Decode(&set); err != nil {
			return kv.Value{}, err
		}
		return kv.StringSetValue(set), nil
	}
	return kv.Value{}, fmt.Errorf("invalid kind %s", kind)
}
