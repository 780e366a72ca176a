package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/binding"
	"github.com/roach88/kprefs/internal/config"
	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
	"github.com/roach88/kprefs/internal/metrics"
	"github.com/roach88/kprefs/internal/schema"
)

// session is one command's view of the configured store.
type session struct {
	cfg      *config.Config
	store    *kv.Store
	prefs    *binding.Prefs
	registry *schema.Registry // nil when no schema is configured
}

// loadConfig reads config for cmd. Flags set on the command line win over
// the environment and the config file.
func loadConfig(f *OutputFormatter, opts *RootOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	f.VerboseLog("backend=%s namespace=%s schema=%q", cfg.Backend, cfg.Namespace, cfg.Schema)
	return cfg, nil
}

// openSession opens the backend, wraps it in a store and, when a schema is
// configured, builds the binding registry. m may be nil.
func openSession(ctx context.Context, f *OutputFormatter, cfg *config.Config, m *metrics.Metrics) (*session, error) {
	var decls *schema.Schema
	if cfg.Schema != "" {
		s, err := schema.Load(cfg.Schema)
		if err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeSchema, "failed to load schema", err)
		}
		decls = s
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeBackend, "failed to open "+cfg.Backend+" backend", err)
	}

	st := kv.New(backend, kv.WithNamespace(cfg.Namespace), kv.WithMetrics(m))
	s := &session{cfg: cfg, store: st, prefs: binding.NewPrefs(st)}

	if decls != nil {
		reg, err := schema.NewRegistry(s.prefs, decls)
		if err != nil {
			s.Close()
			return nil, f.Fail(ExitCommandError, ErrCodeSchema, "failed to build bindings", err)
		}
		s.registry = reg
	}
	return s, nil
}

// entry resolves a declared binding by name.
func (s *session) entry(f *OutputFormatter, name string) (schema.Entry, error) {
	if s.registry == nil {
		return nil, f.Fail(ExitCommandError, ErrCodeSchema, "no schema configured (use --schema or KPREFS_SCHEMA)", nil)
	}
	e, ok := s.registry.Lookup(name)
	if !ok {
		return nil, f.Fail(ExitFailure, ErrCodeUnknownName, "unknown binding "+name, nil)
	}
	return e, nil
}

// storeFailure maps a store error to an output error.
func storeFailure(f *OutputFormatter, message string, err error) error {
	switch {
	case kv.IsTypeMismatch(err):
		return f.Fail(ExitFailure, ErrCodeTypeMismatch, message, err)
	case kv.IsUnavailable(err), kv.IsClosed(err):
		return f.Fail(ExitCommandError, ErrCodeBackend, message, err)
	case errors.Is(err, context.Canceled):
		return f.Fail(ExitCommandError, ErrCodeGeneric, message, err)
	}
	return f.Fail(ExitFailure, ErrCodeInvalidValue, message, err)
}

// Close releases views, stops the store and closes the backend.
func (s *session) Close() {
	s.prefs.Close()
	if err := s.store.Close(); err != nil {
		logging.Named("cli").Warn("closing store", zap.Error(err))
	}
}
