package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes body next to a copy of the app schema and returns
// the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	schema, err := os.ReadFile("testdata/schemas/app.cue")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.cue"), schema, 0o644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ResolvesSchemaRelativeToFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/age_replay.yaml")
	require.NoError(t, err)

	assert.Equal(t, "age_replay", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schemas", "app.cue"), s.Schema)
	assert.Len(t, s.Steps, 6)
	assert.Len(t, s.Assertions, 3)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: d
schema: app.cue
steps:
  - set: age
    value: "1"
assertion:
  - type: final_value
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nschema: app.cue\nsteps: [{clear: true}]\n",
			want: "name is required",
		},
		{
			name: "missing schema file",
			body: "name: n\ndescription: d\nschema: nope.cue\nsteps: [{clear: true}]\n",
			want: "schema file not found",
		},
		{
			name: "no steps",
			body: "name: n\ndescription: d\nschema: app.cue\n",
			want: "steps list is required",
		},
		{
			name: "two actions in one step",
			body: "name: n\ndescription: d\nschema: app.cue\nsteps: [{set: age, unset: age}]\n",
			want: "exactly one of",
		},
		{
			name: "expect without get",
			body: "name: n\ndescription: d\nschema: app.cue\nsteps: [{set: age, value: '1', expect: '1'}]\n",
			want: "expect is only valid with get",
		},
		{
			name: "bad view",
			body: "name: n\ndescription: d\nschema: app.cue\nsteps: [{watch: age, view: eager}]\n",
			want: "view must be gated or replay",
		},
		{
			name: "unknown assertion",
			body: "name: n\ndescription: d\nschema: app.cue\nsteps: [{clear: true}]\nassertions: [{type: vibes}]\n",
			want: "unknown assertion type",
		},
		{
			name: "emissions without watcher",
			body: "name: n\ndescription: d\nschema: app.cue\nsteps: [{clear: true}]\nassertions: [{type: emissions}]\n",
			want: "watcher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
