// Package harness runs kprefs conformance scenarios.
//
// A scenario declares bindings (through a schema file), drives them with a
// sequence of steps and asserts on the resulting trace and final values.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: premium_gated
//	description: "A gated view emits only distinct values while observed"
//	schema: ../schemas/app.cue
//	steps:
//	  - watch: premium
//	    as: banner
//	    view: gated
//	  - set: premium
//	    value: "true"
//	  - get: premium
//	    expect: "true"
//	  - stop: banner
//	assertions:
//	  - type: emissions
//	    watcher: banner
//	    values: ["false", "true"]
//	  - type: final_value
//	    binding: premium
//	    value: "true"
//
// Values are written in the display form of their kind (see kv.ParseValue);
// "null" stands for an absent nullable binding.
//
// # Assertion Types
//
//   - emissions: a watcher received exactly these values, in order
//   - emission_count: a watcher received exactly N values
//   - final_value: a binding reads this value after the last step
//   - key_absent: a store key has no entry after the last step
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite backend with a
// testutil.DeterministicClock as the store's seq clock. After each step the
// harness flushes every live watcher and appends what it received to the
// trace in watcher creation order, so traces are identical across runs and
// suitable for golden file comparison.
package harness
