package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/kprefs/internal/binding"
	"github.com/roach88/kprefs/internal/kv"
)

// Decl is one declared binding.
type Decl struct {
	Name       string
	Key        string // explicit key; empty means derive from Name
	Kind       kv.Kind
	Nullable   bool
	Default    kv.Value
	HasDefault bool
	Line       int // source line, 0 if unknown

	defaultErr error
}

// ResolvedKey returns the store key the declaration binds to.
func (d Decl) ResolvedKey() (string, error) {
	return binding.ResolveKey(d.Name, d.Key)
}

// Schema is an ordered set of declarations, sorted by name.
type Schema struct {
	Source string
	Decls  []Decl
}

// Lookup finds a declaration by name.
func (s *Schema) Lookup(name string) (Decl, bool) {
	i := sort.Search(len(s.Decls), func(i int) bool { return s.Decls[i].Name >= name })
	if i < len(s.Decls) && s.Decls[i].Name == name {
		return s.Decls[i], true
	}
	return Decl{}, false
}

func (s *Schema) sort() {
	sort.Slice(s.Decls, func(i, j int) bool { return s.Decls[i].Name < s.Decls[j].Name })
}

// Validation error codes (E200-E299)
const (
	ErrInvalidKind      = "E201" // kind is not one of the six primitives
	ErrMissingDefault   = "E202" // non-null binding without a default
	ErrNullableDefault  = "E203" // nullable binding with a default
	ErrDefaultType      = "E204" // default does not match kind
	ErrInvalidKey       = "E205" // name/key does not resolve to a valid key
	ErrConflictingKinds = "E206" // two declarations share a key with different kinds
	ErrNoBindings       = "E207" // document declares nothing
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks declarations against the binding rules.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError
	if len(s.Decls) == 0 {
		return []ValidationError{{Field: "bindings", Message: "no bindings declared", Code: ErrNoBindings}}
	}

	type owner struct {
		name string
		kind kv.Kind
	}
	keys := make(map[string]owner)

	for _, d := range s.Decls {
		field := "binding." + d.Name
		fail := func(code, format string, args ...any) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code, Line: d.Line})
		}

		if !d.Kind.Valid() {
			fail(ErrInvalidKind, "kind must be one of bool, string, int32, int64, float32, string_set")
			continue
		}
		switch {
		case d.Nullable && d.HasDefault:
			fail(ErrNullableDefault, "nullable bindings take no default")
		case !d.Nullable && !d.HasDefault:
			fail(ErrMissingDefault, "non-null %s binding requires a default", d.Kind)
		case d.defaultErr != nil:
			fail(ErrDefaultType, "default: %v", d.defaultErr)
		case d.HasDefault && d.Default.Kind != d.Kind:
			fail(ErrDefaultType, "default is %s, want %s", d.Default.Kind, d.Kind)
		}

		key, err := d.ResolvedKey()
		if err != nil {
			fail(ErrInvalidKey, "%v", err)
			continue
		}
		if prev, ok := keys[key]; ok && prev.kind != d.Kind {
			fail(ErrConflictingKinds, "key %q is %s here but %s in binding.%s", key, d.Kind, prev.kind, prev.name)
			continue
		}
		keys[key] = owner{name: d.Name, kind: d.Kind}
	}
	return errs
}
