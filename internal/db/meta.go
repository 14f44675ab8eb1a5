package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/ferry/internal/errors"
)

const metaLastSyncAt = "last_sync_at"

// GetMeta returns the value stored under key, or false if unset.
func GetMeta(ctx context.Context, q Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// SetMeta stores value under key.
func SetMeta(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LastSyncAt returns the end time of the last drain pass, if any.
func LastSyncAt(ctx context.Context, q Querier) (*time.Time, error) {
	value, ok, err := GetMeta(ctx, q, metaLastSyncAt)
	if err != nil || !ok {
		return nil, err
	}
	t, err := ParseTime(value)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &t, nil
}

// SetLastSyncAt records the end time of a drain pass.
func SetLastSyncAt(ctx context.Context, q Querier, t time.Time) error {
	return SetMeta(ctx, q, metaLastSyncAt, FormatTime(t))
}
