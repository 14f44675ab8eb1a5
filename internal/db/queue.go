package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
)

const queueColumns = `seq, id, category, operation, data_json, enqueued_at, retry_count, last_error`

// InsertSyncEntry appends e to the sync queue and sets e.Seq.
func InsertSyncEntry(ctx context.Context, q Querier, e *content.SyncEntry) error {
	data := string(e.Data)
	if data == "" {
		data = "null"
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO sync_queue (id, category, operation, data_json, enqueued_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, e.ID, string(e.Category), string(e.Operation), data, FormatTime(e.EnqueuedAt), e.RetryCount)
	if err != nil {
		return errors.NewInternal(err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return errors.NewInternal(err)
	}
	e.Seq = seq
	return nil
}

// ListSyncQueue returns every queued entry in enqueue order.
func ListSyncQueue(ctx context.Context, q Querier) ([]content.SyncEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+queueColumns+` FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	entries := make([]content.SyncEntry, 0)
	for rows.Next() {
		e, err := scanSyncEntry(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return entries, nil
}

// CountSyncQueue returns the number of queued entries.
func CountSyncQueue(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// DeleteSyncEntry removes an acknowledged entry.
func DeleteSyncEntry(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("sync entry", id)
	}
	return nil
}

// RecordSyncFailure increments retry_count for id, stores errMsg, and returns
// the new retry count.
func RecordSyncFailure(ctx context.Context, q Querier, id, errMsg string) (int, error) {
	var retries int
	err := q.QueryRowContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
		RETURNING retry_count
	`, errMsg, id).Scan(&retries)
	if err == sql.ErrNoRows {
		return 0, errors.NewNotFound("sync entry", id)
	}
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return retries, nil
}

// MoveToDeadLetter moves a queued entry into dead_letters.
func MoveToDeadLetter(ctx context.Context, q Querier, id string, failedAt time.Time) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO dead_letters (id, seq, category, operation, data_json, enqueued_at, retry_count, last_error, failed_at)
		SELECT id, seq, category, operation, data_json, enqueued_at, retry_count, last_error, ?
		FROM sync_queue WHERE id = ?
	`, FormatTime(failedAt), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("sync entry", id)
	}
	return DeleteSyncEntry(ctx, q, id)
}

// ListDeadLetters returns dead-lettered entries, oldest first.
func ListDeadLetters(ctx context.Context, q Querier) ([]content.DeadLetter, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+queueColumns+`, failed_at FROM dead_letters ORDER BY seq ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	letters := make([]content.DeadLetter, 0)
	for rows.Next() {
		var (
			d        content.DeadLetter
			failedAt string
		)
		e, err := scanSyncEntry(rows, &failedAt)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		d.SyncEntry = *e
		if d.FailedAt, err = ParseTime(failedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		letters = append(letters, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return letters, nil
}

// CountDeadLetters returns the number of dead-lettered entries.
func CountDeadLetters(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// RequeueDeadLetter moves a dead letter back to the tail of the sync queue
// with its retry count reset. Returns the requeued entry.
func RequeueDeadLetter(ctx context.Context, q Querier, id string) (*content.SyncEntry, error) {
	var (
		e          content.SyncEntry
		category   string
		operation  string
		data       string
		enqueuedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, category, operation, data_json, enqueued_at FROM dead_letters WHERE id = ?
	`, id).Scan(&e.ID, &category, &operation, &data, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("dead letter", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	e.Category = content.Category(category)
	e.Operation = content.Operation(operation)
	e.Data = json.RawMessage(data)
	if e.EnqueuedAt, err = ParseTime(enqueuedAt); err != nil {
		return nil, errors.NewInternal(err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := InsertSyncEntry(ctx, q, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// scanSyncEntry scans queueColumns (plus any extra destinations) into a SyncEntry.
func scanSyncEntry(row rowScanner, extra ...any) (*content.SyncEntry, error) {
	var (
		e          content.SyncEntry
		category   string
		operation  string
		data       string
		enqueuedAt string
		lastError  sql.NullString
	)

	dest := []any{&e.Seq, &e.ID, &category, &operation, &data, &enqueuedAt, &e.RetryCount, &lastError}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	e.Category = content.Category(category)
	e.Operation = content.Operation(operation)
	e.Data = json.RawMessage(data)
	e.LastError = lastError.String

	var err error
	if e.EnqueuedAt, err = ParseTime(enqueuedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
