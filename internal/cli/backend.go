package cli

import (
	"context"
	"fmt"

	"github.com/roach88/kprefs/internal/config"
	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/kv/badgerkv"
	"github.com/roach88/kprefs/internal/kv/consulkv"
	"github.com/roach88/kprefs/internal/kv/filekv"
	"github.com/roach88/kprefs/internal/kv/rediskv"
	"github.com/roach88/kprefs/internal/kv/sqlite"
	"github.com/roach88/kprefs/internal/logging"
)

// openBackend opens the backend cfg.Backend names, scoped to cfg.Namespace.
// The file backend holds a single namespace per file.
func openBackend(ctx context.Context, cfg *config.Config) (kv.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemoryBackend(), nil

	case "sqlite":
		opts := []sqlite.Option{sqlite.WithNamespace(cfg.Namespace)}
		if cfg.SQLite.PollInterval > 0 {
			opts = append(opts, sqlite.WithPollInterval(cfg.SQLite.PollInterval))
		}
		return sqlite.Open(cfg.SQLite.Path, opts...)

	case "badger":
		bcfg := badgerkv.DefaultConfig(cfg.Badger.Path)
		if cfg.Badger.InMemory {
			bcfg = badgerkv.InMemoryConfig()
		}
		bcfg.Namespace = cfg.Namespace
		bcfg.Logger = logging.Named("badger")
		return badgerkv.Open(bcfg)

	case "file":
		return filekv.Open(cfg.File.Path)

	case "redis":
		return rediskv.Open(ctx, rediskv.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Namespace,
		})

	case "consul":
		return consulkv.New(consulkv.Config{
			Address:    cfg.Consul.Address,
			Datacenter: cfg.Consul.Datacenter,
			Token:      cfg.Consul.Token,
			Prefix:     cfg.Consul.Prefix,
			Namespace:  cfg.Namespace,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
