// Package rediskv provides a kv.Backend on a Redis hash.
//
// Each namespace is one hash, kprefs:<namespace>, whose fields are
// preference keys and whose values are kv JSON envelopes. Every Apply runs
// as an optimistic transaction and then publishes the touched keys on
// kprefs:<namespace>:changes tagged with the writer's origin id, which
// Watch uses to surface other writers' commits.
package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roach88/kprefs/internal/kv"
	"github.com/roach88/kprefs/internal/logging"
)

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Watcher = (*Backend)(nil)
)

// ErrConnectionFailed indicates the initial ping failed.
var ErrConnectionFailed = errors.New("redis connection failed")

const maxTxRetries = 10

// Config configures a Redis backend.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Namespace   string
	DialTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Backend stores one namespace in a Redis hash.
type Backend struct {
	client  *redis.Client
	hash    string
	channel string
	origin  string
	logger  *zap.Logger
}

// changeMessage is published after each commit.
type changeMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	cfg.ApplyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return newBackend(client, cfg.Namespace), nil
}

func newBackend(client *redis.Client, namespace string) *Backend {
	hash := "kprefs:" + namespace
	return &Backend{
		client:  client,
		hash:    hash,
		channel: hash + ":changes",
		origin:  uuid.NewString(),
		logger:  logging.Named("rediskv"),
	}
}

// Load implements kv.Backend.
func (b *Backend) Load(ctx context.Context, key string) (kv.Value, bool, error) {
	raw, err := b.client.HGet(ctx, b.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return kv.Value{}, false, nil
	}
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("hget %q: %w", key, err)
	}
	v, err := kv.DecodeValue(raw)
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("pref %q: %w", key, err)
	}
	return v, true, nil
}

// Keys implements kv.Backend.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.client.HKeys(ctx, b.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply implements kv.Backend. The hash is watched so a clear sees a
// consistent key list; conflicting writers cause a bounded retry.
func (b *Backend) Apply(ctx context.Context, batch kv.Batch) error {
	fields := make(map[string]any)
	for _, op := range batch.Ops {
		if op.Remove {
			continue
		}
		raw, err := kv.EncodeValue(op.Value)
		if err != nil {
			return fmt.Errorf("pref %q: %w", op.Key, err)
		}
		fields[op.Key] = raw
	}

	var touched []string
	txf := func(tx *redis.Tx) error {
		touched = touched[:0]
		if batch.Clear {
			existing, err := tx.HKeys(ctx, b.hash).Result()
			if err != nil {
				return err
			}
			touched = append(touched, existing...)
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if batch.Clear {
				pipe.Del(ctx, b.hash)
			}
			for _, op := range batch.Ops {
				if op.Remove {
					pipe.HDel(ctx, b.hash, op.Key)
				} else {
					pipe.HSet(ctx, b.hash, op.Key, fields[op.Key])
				}
				touched = append(touched, op.Key)
			}
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = b.client.Watch(ctx, txf, b.hash)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}

	if len(touched) > 0 {
		msg, _ := json.Marshal(changeMessage{Origin: b.origin, Keys: touched})
		if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
			// The data is committed; only cross-process observers miss it.
			b.logger.Warn("publish change", zap.String("channel", b.channel), zap.Error(err))
		}
	}
	return nil
}

// Watch implements kv.Watcher via pub/sub. Messages from this backend's own
// origin are ignored.
func (b *Backend) Watch(ctx context.Context, notify func(keys ...string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg changeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("malformed change message", zap.String("payload", m.Payload), zap.Error(err))
				continue
			}
			if msg.Origin == b.origin || len(msg.Keys) == 0 {
				continue
			}
			notify(msg.Keys...)
		}
	}
}

// Close implements kv.Backend.
func (b *Backend) Close() error {
	return b.client.Close()
}
