// Package badgerkv provides a kv.Backend on an embedded BadgerDB.
//
// Keys are stored as namespace + 0x00 + key so several namespaces can share
// one database directory. Values use the kv JSON envelope. BadgerDB holds an
// exclusive lock on its directory, so there is no cross-process watch.
package badgerkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
)

var _ kv.Backend = (*Backend)(nil)

// Config holds configuration for a BadgerDB backend.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// Namespace scopes keys. Default "default".
	Namespace string

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *zap.Logger
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		Namespace:      "default",
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, Namespace: "default"}
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Backend stores one namespace in a BadgerDB.
type Backend struct {
	db     *badger.DB
	prefix []byte
	logger *zap.Logger
	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens a BadgerDB with the given configuration.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.Sugar()})
	} else {
		logger = zap.NewNop()
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Backend{
		db:     db,
		prefix: append([]byte(cfg.Namespace), 0),
		logger: logger,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

func (b *Backend) dbKey(key string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(key))
	out = append(out, b.prefix...)
	return append(out, key...)
}

// Load implements kv.Backend.
func (b *Backend) Load(_ context.Context, key string) (kv.Value, bool, error) {
	var (
		v     kv.Value
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.dbKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			decoded, err := kv.DecodeValue(raw)
			if err != nil {
				return err
			}
			v, found = decoded, true
			return nil
		})
	})
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("load %q: %w", key, err)
	}
	return v, found, nil
}

// Keys implements kv.Backend. Badger iterates in byte order, so keys come
// back sorted.
func (b *Backend) Keys(_ context.Context) ([]string, error) {
	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: b.prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(bytes.TrimPrefix(it.Item().Key(), b.prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Apply implements kv.Backend. The batch commits in one transaction.
func (b *Backend) Apply(ctx context.Context, batch kv.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if batch.Clear {
			if err := b.clear(txn); err != nil {
				return err
			}
		}
		for _, op := range batch.Ops {
			if op.Remove {
				if err := txn.Delete(b.dbKey(op.Key)); err != nil {
					return err
				}
				continue
			}
			raw, err := kv.EncodeValue(op.Value)
			if err != nil {
				return err
			}
			if err := txn.Set(b.dbKey(op.Key), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

func (b *Backend) clear(txn *badger.Txn) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: b.prefix})
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.stopGC != nil {
			close(b.stopGC)
			<-b.gcDone
		}
		b.closeErr = b.db.Close()
	})
	return b.closeErr
}

func (b *Backend) runGC(interval time.Duration, ratio float64) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			if err := b.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC error", zap.Error(err))
			}
		}
	}
}
