package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads a schema from a .cue file, a .yaml/.yml file, or a directory
// holding a CUE package, and validates it. Validation failures are joined
// into a single *LoadError.
func Load(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}

	var s *Schema
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		s, err = LoadCUEDir(path)
	case ext == ".cue":
		s, err = LoadCUE(path)
	case ext == ".yaml" || ext == ".yml":
		s, err = LoadYAML(path)
	default:
		return nil, fmt.Errorf("schema %s: unsupported file type %q", path, ext)
	}
	if err != nil {
		return nil, err
	}

	if errs := Validate(s); len(errs) > 0 {
		return nil, &LoadError{Source: path, Errors: errs}
	}
	return s, nil
}

// LoadError wraps the validation errors of a schema file.
type LoadError struct {
	Source string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%s: %s", e.Source, strings.Join(msgs, "; "))
}
