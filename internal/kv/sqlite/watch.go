package sqlite

import (
	"context"
	"fmt"
	"time"
)

// Watch implements kv.Watcher by polling the changelog for rows written by
// other origins in this namespace. Rows that predate the call are skipped.
func (b *Backend) Watch(ctx context.Context, notify func(keys ...string)) error {
	rev, err := b.headRev(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		keys, next, err := b.changesSince(ctx, rev)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		rev = next
		if len(keys) > 0 {
			notify(keys...)
		}
	}
}

func (b *Backend) headRev(ctx context.Context) (int64, error) {
	var rev int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) FROM changelog`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("query changelog head: %w", err)
	}
	return rev, nil
}

// changesSince returns foreign keys changed after rev, de-duplicated in
// first-seen order, and the new high-water mark.
func (b *Backend) changesSince(ctx context.Context, rev int64) ([]string, int64, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT rev, key, origin FROM changelog
		WHERE namespace = ? AND rev > ?
		ORDER BY rev ASC
	`, b.namespace, rev)
	if err != nil {
		return nil, rev, fmt.Errorf("query changelog: %w", err)
	}
	defer rows.Close()

	var keys []string
	seen := make(map[string]bool)
	next := rev
	for rows.Next() {
		var (
			r           int64
			key, origin string
		)
		if err := rows.Scan(&r, &key, &origin); err != nil {
			return nil, rev, fmt.Errorf("scan changelog: %w", err)
		}
		next = r
		if origin == b.origin || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, rev, fmt.Errorf("iterate changelog: %w", err)
	}
	return keys, next, nil
}
