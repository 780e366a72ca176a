package harness

import (
	"context"
	"fmt"
	"slices"
)

// evaluate checks one assertion against the finished run.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertEmissions:
		got, ok := h.result.Emissions[a.Watcher]
		if !ok {
			return fmt.Errorf("no watcher %q", a.Watcher)
		}
		if !slices.Equal(got, a.Values) {
			return fmt.Errorf("watcher %q received %q, want %q", a.Watcher, got, a.Values)
		}

	case AssertEmissionCount:
		got, ok := h.result.Emissions[a.Watcher]
		if !ok {
			return fmt.Errorf("no watcher %q", a.Watcher)
		}
		if len(got) != a.Count {
			return fmt.Errorf("watcher %q received %d values, want %d", a.Watcher, len(got), a.Count)
		}

	case AssertFinalValue:
		got, ok := h.result.Final[a.Binding]
		if !ok {
			return fmt.Errorf("unknown binding %q", a.Binding)
		}
		if got != a.Value {
			return fmt.Errorf("binding %q is %q, want %q", a.Binding, got, a.Value)
		}

	case AssertKeyAbsent:
		present, err := h.store.Contains(ctx, a.Key)
		if err != nil {
			return err
		}
		if present {
			return fmt.Errorf("key %q is present", a.Key)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
