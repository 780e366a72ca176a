package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path to the binding declarations (.cue or .yaml).
	// Relative paths are resolved against the scenario file's directory.
	Schema string `yaml:"schema"`

	// Namespace scopes the store. Defaults to the scenario name.
	Namespace string `yaml:"namespace,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate emissions and final values.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of Set, Unset, Get, Watch,
// Stop or Clear is given.
type Step struct {
	// Set writes Value to the named binding.
	Set string `yaml:"set,omitempty"`

	// Unset removes the named binding's key.
	Unset string `yaml:"unset,omitempty"`

	// Get reads the named binding and, if Expect is set, checks it.
	Get string `yaml:"get,omitempty"`

	// Watch attaches a watcher to the named binding.
	Watch string `yaml:"watch,omitempty"`

	// As names the watcher created by Watch. Defaults to the binding name.
	As string `yaml:"as,omitempty"`

	// View is "replay" (default) or "gated", used by Watch.
	View string `yaml:"view,omitempty"`

	// Stop detaches the named watcher.
	Stop string `yaml:"stop,omitempty"`

	// Clear removes every key in the namespace.
	Clear bool `yaml:"clear,omitempty"`

	// Value is the raw value for Set.
	Value string `yaml:"value,omitempty"`

	// Expect is the expected value for Get.
	Expect *string `yaml:"expect,omitempty"`

	// Error expects the step to fail; the step's error must contain it.
	Error string `yaml:"error,omitempty"`
}

func (s Step) kind() string {
	switch {
	case s.Set != "":
		return EventSet
	case s.Unset != "":
		return EventUnset
	case s.Get != "":
		return EventGet
	case s.Watch != "":
		return EventWatch
	case s.Stop != "":
		return EventStop
	case s.Clear:
		return EventClear
	}
	return ""
}

// Assertion validates emissions or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "emissions": watcher received exactly Values
	// - "emission_count": watcher received exactly Count values
	// - "final_value": binding reads Value
	// - "key_absent": Key has no entry
	Type string `yaml:"type"`

	Watcher string   `yaml:"watcher,omitempty"`
	Values  []string `yaml:"values,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Binding string   `yaml:"binding,omitempty"`
	Value   string   `yaml:"value,omitempty"`
	Key     string   `yaml:"key,omitempty"`
}

// Assertion type constants.
const (
	AssertEmissions     = "emissions"
	AssertEmissionCount = "emission_count"
	AssertFinalValue    = "final_value"
	AssertKeyAbsent     = "key_absent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the schema path relative to the scenario BEFORE validation
	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema file not found: %s", s.Schema)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	n := 0
	for _, set := range []bool{s.Set != "", s.Unset != "", s.Get != "", s.Watch != "", s.Stop != "", s.Clear} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one of set, unset, get, watch, stop, clear is required", index)
	}
	if s.Expect != nil && s.Get == "" {
		return fmt.Errorf("steps[%d]: expect is only valid with get", index)
	}
	if s.View != "" && s.View != "gated" && s.View != "replay" {
		return fmt.Errorf("steps[%d]: view must be gated or replay, got %q", index, s.View)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEmissions, AssertEmissionCount:
		if a.Watcher == "" {
			return fmt.Errorf("assertions[%d]: watcher is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalValue:
		if a.Binding == "" {
			return fmt.Errorf("assertions[%d]: binding is required for final_value", index)
		}
	case AssertKeyAbsent:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for key_absent", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
