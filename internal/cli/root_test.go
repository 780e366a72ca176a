package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/logging"
)

// workspace points the sqlite backend and schema at per-test files through
// the environment, the way a user's shell would.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "prefs.cue"))
	require.NoError(t, err)

	t.Setenv("KPREFS_BACKEND", "sqlite")
	t.Setenv("KPREFS_SQLITE_PATH", filepath.Join(dir, "prefs.db"))
	t.Setenv("KPREFS_SCHEMA", schemaPath)

	logging.SetLogger(zap.NewNop())
	t.Cleanup(logging.ResetLogger)
	return dir
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kprefs", cmd.Use)
	assert.Contains(t, cmd.Long, "typed preference bindings")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"get", "set", "unset", "list", "reset", "watch", "validate", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "backend", "namespace", "schema"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	countFlag := watchCmd.Flags().Lookup("count")
	require.NotNil(t, countFlag)
	assert.Equal(t, "c", countFlag.Shorthand)
	assert.Equal(t, "0", countFlag.DefValue)
	assert.NotNil(t, watchCmd.Flags().Lookup("gated"))
	assert.NotNil(t, watchCmd.Flags().Lookup("metrics-listen"))
}

func TestInvalidFormat(t *testing.T) {
	workspace(t)
	_, err := execute(t, "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
