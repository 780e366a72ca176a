package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kprefs/internal/kv"
)

var _ kv.Backend = (*Backend)(nil)
var _ kv.Watcher = (*Backend)(nil)

// Load implements kv.Backend.
func (b *Backend) Load(ctx context.Context, key string) (kv.Value, bool, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT value FROM prefs
		WHERE namespace = ? AND key = ?
	`, b.namespace, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Value{}, false, nil
	}
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("query pref %q: %w", key, err)
	}

	v, err := kv.DecodeValue(raw)
	if err != nil {
		return kv.Value{}, false, fmt.Errorf("pref %q: %w", key, err)
	}
	return v, true, nil
}

// Keys implements kv.Backend. Keys are ordered by binary collation.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key FROM prefs
		WHERE namespace = ?
		ORDER BY key COLLATE BINARY ASC
	`, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Apply implements kv.Backend. The batch and its changelog rows commit in
// one transaction.
func (b *Backend) Apply(ctx context.Context, batch kv.Batch) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var touched []string
	if batch.Clear {
		cleared, err := clearNamespace(ctx, tx, b.namespace)
		if err != nil {
			return err
		}
		touched = append(touched, cleared...)
	}

	for _, op := range batch.Ops {
		if op.Remove {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM prefs WHERE namespace = ? AND key = ?
			`, b.namespace, op.Key); err != nil {
				return fmt.Errorf("remove pref %q: %w", op.Key, err)
			}
		} else {
			raw, err := kv.EncodeValue(op.Value)
			if err != nil {
				return fmt.Errorf("pref %q: %w", op.Key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO prefs (namespace, key, kind, value)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(namespace, key) DO UPDATE SET
					kind = excluded.kind,
					value = excluded.value
			`, b.namespace, op.Key, op.Value.Kind.String(), raw); err != nil {
				return fmt.Errorf("write pref %q: %w", op.Key, err)
			}
		}
		touched = append(touched, op.Key)
	}

	if err := b.appendChangelog(ctx, tx, touched); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func clearNamespace(ctx context.Context, tx *sql.Tx, namespace string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM prefs WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query keys to clear: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prefs WHERE namespace = ?`, namespace); err != nil {
		return nil, fmt.Errorf("clear namespace: %w", err)
	}
	return keys, nil
}

func (b *Backend) appendChangelog(ctx context.Context, tx *sql.Tx, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO changelog (namespace, key, origin) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare changelog: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, b.namespace, key, b.origin); err != nil {
			return fmt.Errorf("append changelog: %w", err)
		}
	}

	if b.changelogCap > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM changelog
			WHERE rev <= (SELECT MAX(rev) FROM changelog) - ?
		`, b.changelogCap); err != nil {
			return fmt.Errorf("trim changelog: %w", err)
		}
	}
	return nil
}
