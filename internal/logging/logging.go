// Package logging holds the process-wide zap logger used by kprefs packages.
//
// Libraries never configure logging themselves; they call GetLogger and
// attach a name. The CLI decides between production and development output.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu          sync.RWMutex
	logger      *zap.Logger
	initialized bool
)

// InitLogger installs a production logger if none is set yet.
// Safe to call multiple times.
func InitLogger() {
	mu.Lock()
	defer mu.Unlock()

	if initialized && logger != nil {
		return
	}
	l, err := zap.NewProduction()
	if err != nil {
		// zap only fails here on a broken sink configuration.
		l = zap.NewNop()
	}
	logger = l
	initialized = true
}

// InitDevelopment installs a human-readable development logger,
// replacing any logger already set.
func InitDevelopment() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer cores.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
	initialized = true
}

// GetLogger returns the global logger, initializing it if necessary.
func GetLogger() *zap.Logger {
	mu.RLock()
	if initialized && logger != nil {
		defer mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	InitLogger()

	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named is shorthand for GetLogger().Named(name).
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// ResetLogger flushes and drops the global logger.
// Only meant for tests.
func ResetLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		_ = logger.Sync()
	}
	logger = nil
	initialized = false
}
