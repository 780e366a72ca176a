package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kprefs/internal/kv"
)

// yamlDocument is the YAML form of a schema.
type yamlDocument struct {
	Bindings map[string]yaml.Node `yaml:"bindings"`
}

type yamlDecl struct {
	Kind     string `yaml:"kind"`
	Key      string `yaml:"key"`
	Nullable bool   `yaml:"nullable"`
	Default  any    `yaml:"default"`
}

// LoadYAML reads a YAML schema file.
func LoadYAML(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseYAML(path, data)
}

// ParseYAML parses YAML schema source. Kind aliases accepted by
// kv.ParseKind ("int", "long", "float", "set") are allowed here.
func ParseYAML(source string, data []byte) (*Schema, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}

	s := &Schema{Source: source}
	for name, node := range doc.Bindings {
		var raw yamlDecl
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%s:%d: binding.%s: %w", source, node.Line, name, err)
		}

		d := Decl{Name: name, Key: raw.Key, Nullable: raw.Nullable, Line: node.Line}
		kind, err := kv.ParseKind(raw.Kind)
		if err != nil {
			// Left invalid so Validate reports it with the others.
			d.Kind = 0
		} else {
			d.Kind = kind
		}

		if raw.Default != nil {
			d.HasDefault = true
			if d.Kind.Valid() {
				d.Default, d.defaultErr = kv.ValueOf(d.Kind, raw.Default)
			}
		}
		s.Decls = append(s.Decls, d)
	}
	s.sort()
	return s, nil
}
