// Package schema loads binding declarations from CUE or YAML and turns them
// into a name-addressed Registry of type-erased entries.
//
// A declaration names a binding, its primitive kind, whether it is
// nullable, its default and an optional explicit key:
//
//	binding: {
//		age:      {kind: "int32", default: 0}
//		nickname: {kind: "string", nullable: true}
//		theme:    {kind: "string", default: "light", key: "ui.theme"}
//	}
//
// The YAML form is the same document under a top-level "bindings" mapping.
// CUE files are unified with the embedded #Binding definition, so kind and
// default type errors carry source positions.
//
// Registry entries let tooling (the CLI, the scenario harness) get, set and
// watch bindings whose Go types are only known at load time. Each entry is
// backed by a real binding.Binding[V] created through a binding.Prefs scope,
// so it shares views with any typed code using the same scope.
package schema
