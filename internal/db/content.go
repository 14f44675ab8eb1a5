package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
)

const contentColumns = `id, kind, title, subject, size_bytes, downloaded_at, last_accessed_at,
	expires_at, metadata_json, payload_json, progress_json`

// UpsertContent stores an entry, replacing any existing entry with the same id
// in a single statement so readers never observe both or neither.
func UpsertContent(ctx context.Context, q Querier, e *content.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return errors.NewInternal(err)
	}

	var payload sql.NullString
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}

	progress, err := marshalProgress(e.Progress)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO offline_content (` + contentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			subject = excluded.subject,
			size_bytes = excluded.size_bytes,
			downloaded_at = excluded.downloaded_at,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at,
			metadata_json = excluded.metadata_json,
			payload_json = excluded.payload_json,
			progress_json = excluded.progress_json
	`

	_, err = q.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.Title, e.Subject, e.SizeBytes,
		FormatTime(e.DownloadedAt), FormatTime(e.LastAccessedAt), formatNullTime(e.ExpiresAt),
		string(metadata), payload, progress,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetContent retrieves an entry by id.
func GetContent(ctx context.Context, q Querier, id string) (*content.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM offline_content WHERE id = ?`, id)
	e, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("content", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// ContentExists reports whether an entry with id is stored.
func ContentExists(ctx context.Context, q Querier, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM offline_content WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ContentSize returns the stored size of id, or false if it is absent.
func ContentSize(ctx context.Context, q Querier, id string) (int64, bool, error) {
	var size int64
	err := q.QueryRowContext(ctx, `SELECT size_bytes FROM offline_content WHERE id = ?`, id).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewInternal(err)
	}
	return size, true, nil
}

// ListContent returns every entry ordered by download time, then id.
func ListContent(ctx context.Context, q Querier) ([]content.Entry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contentColumns+` FROM offline_content ORDER BY downloaded_at ASC, id ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	entries := make([]content.Entry, 0)
	for rows.Next() {
		e, err := scanContent(rows)
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

// DeleteContent removes an entry. Returns false if nothing was stored under id.
func DeleteContent(ctx context.Context, q Querier, id string) (bool, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM offline_content WHERE id = ?`, id)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// DeleteExpired removes every entry whose expires_at is before now and
// returns the removed ids.
func DeleteExpired(ctx context.Context, q Querier, now time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`DELETE FROM offline_content WHERE expires_at IS NOT NULL AND expires_at < ? RETURNING id`,
		FormatTime(now),
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// UpdateContentProgress replaces the progress record of id and touches
// last_accessed_at.
func UpdateContentProgress(ctx context.Context, q Querier, id string, p content.Progress, accessedAt time.Time) error {
	progress, err := marshalProgress(&p)
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE offline_content SET progress_json = ?, last_accessed_at = ? WHERE id = ?`,
		progress, FormatTime(accessedAt), id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("content", id)
	}
	return nil
}

// ContentTotals returns the number of stored entries and their summed size.
func ContentTotals(ctx context.Context, q Querier) (int, int64, error) {
	var (
		count int
		total int64
	)
	err := q.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM offline_content`).Scan(&count, &total)
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}
	return count, total, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanContent scans a single row into an Entry.
func scanContent(row rowScanner) (*content.Entry, error) {
	var (
		e            content.Entry
		kind         string
		downloadedAt string
		accessedAt   string
		expiresAt    sql.NullString
		metadata     string
		payload      sql.NullString
		progress     sql.NullString
	)

	err := row.Scan(
		&e.ID, &kind, &e.Title, &e.Subject, &e.SizeBytes, &downloadedAt, &accessedAt,
		&expiresAt, &metadata, &payload, &progress,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = content.Kind(kind)
	if e.DownloadedAt, err = ParseTime(downloadedAt); err != nil {
		return nil, err
	}
	if e.LastAccessedAt, err = ParseTime(accessedAt); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, err
		}
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	if progress.Valid && progress.String != "" {
		var p content.Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, err
		}
		e.Progress = &p
	}

	return &e, nil
}

func marshalProgress(p *content.Progress) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
