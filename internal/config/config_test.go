package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, "kprefs.db", cfg.SQLite.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.SQLite.PollInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "kprefs", cfg.Consul.Prefix)
}

func TestLoad_DiscoversFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kprefs.yaml"), []byte(`
backend: badger
namespace: app
badger:
  in_memory: true
sqlite:
  poll_interval: 2s
`), 0o644))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Backend)
	assert.Equal(t, "app", cfg.Namespace)
	assert.True(t, cfg.Badger.InMemory)
	assert.Equal(t, 2*time.Second, cfg.SQLite.PollInterval)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: file\nredis:\n  db: 1\n"), 0o644))
	t.Setenv("KPREFS_BACKEND", "redis")
	t.Setenv("KPREFS_REDIS_DB", "7")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, 7, cfg.Redis.DB)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KPREFS_NAMESPACE", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "", "")
	flags.String("namespace", "", "")
	flags.String("schema", "", "")
	require.NoError(t, flags.Parse([]string{"--namespace", "from-flag", "--backend", "memory"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Namespace)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Empty(t, cfg.Schema, "unset flags do not clobber defaults")
}

func TestValidate(t *testing.T) {
	cfg := &Config{Backend: "etcd", Namespace: "x"}
	assert.ErrorContains(t, cfg.Validate(), "unknown backend")

	cfg = &Config{Backend: "memory", Namespace: " "}
	assert.ErrorContains(t, cfg.Validate(), "namespace")

	cfg = &Config{Backend: "consul", Namespace: "x"}
	assert.NoError(t, cfg.Validate())
}
