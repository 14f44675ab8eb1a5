package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
)

func newTestEntry(id string, kind content.Kind, size int64, downloadedAt time.Time) *content.Entry {
	return &content.Entry{
		ID:             id,
		Kind:           kind,
		Title:          "Title " + id,
		Subject:        "math",
		SizeBytes:      size,
		DownloadedAt:   downloadedAt,
		LastAccessedAt: downloadedAt,
		Payload:        json.RawMessage(`{"body":"# Heading"}`),
		Progress:       content.NewProgress(),
	}
}

func TestUpsertContent_RoundTrip(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 2, 1, 8, 0, 0, 123, time.UTC)
	expires := now.Add(24 * time.Hour)
	duration := 600.0
	e := newTestEntry("v1", content.KindVideo, 50_000_000, now)
	e.ExpiresAt = &expires
	e.Metadata.DurationSeconds = &duration

	require.NoError(t, UpsertContent(ctx, db, e))

	got, err := GetContent(ctx, db, "v1")
	require.NoError(t, err)
	require.Equal(t, content.KindVideo, got.Kind)
	require.Equal(t, int64(50_000_000), got.SizeBytes)
	require.True(t, got.DownloadedAt.Equal(now))
	require.NotNil(t, got.ExpiresAt)
	require.True(t, got.ExpiresAt.Equal(expires))
	require.NotNil(t, got.Metadata.DurationSeconds)
	require.Equal(t, 600.0, *got.Metadata.DurationSeconds)
	require.JSONEq(t, `{"body":"# Heading"}`, string(got.Payload))
	require.NotNil(t, got.Progress)
	require.Equal(t, 0.0, got.Progress.Percentage)
}

func TestUpsertContent_ReplacesExisting(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, UpsertContent(ctx, db, newTestEntry("m1", content.KindMaterial, 100, now)))

	replacement := newTestEntry("m1", content.KindMaterial, 250, now.Add(time.Minute))
	replacement.Title = "Revised"
	require.NoError(t, UpsertContent(ctx, db, replacement))

	entries, err := ListContent(ctx, db)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Revised", entries[0].Title)
	require.Equal(t, int64(250), entries[0].SizeBytes)
}

func TestGetContent_NotFound(t *testing.T) {
	db := initTestDB(t)

	_, err := GetContent(context.Background(), db, "missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestContentExistsAndSize(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()

	exists, err := ContentExists(ctx, db, "q1")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, UpsertContent(ctx, db, newTestEntry("q1", content.KindQuiz, 42, time.Now())))

	exists, err = ContentExists(ctx, db, "q1")
	require.NoError(t, err)
	require.True(t, exists)

	size, ok, err := ContentSize(ctx, db, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), size)

	_, ok, err = ContentSize(ctx, db, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListContent_StableOrder(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, UpsertContent(ctx, db, newTestEntry("b", content.KindCourse, 1, base)))
	require.NoError(t, UpsertContent(ctx, db, newTestEntry("a", content.KindCourse, 1, base)))
	require.NoError(t, UpsertContent(ctx, db, newTestEntry("c", content.KindCourse, 1, base.Add(-time.Hour))))

	entries, err := ListContent(ctx, db)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestListContent_EmptyIsNotNil(t *testing.T) {
	db := initTestDB(t)

	entries, err := ListContent(context.Background(), db)
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestDeleteContent(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()
	require.NoError(t, UpsertContent(ctx, db, newTestEntry("a1", content.KindAssignment, 10, time.Now())))

	deleted, err := DeleteContent(ctx, db, "a1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = DeleteContent(ctx, db, "a1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestDeleteExpired(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	expired := newTestEntry("old", content.KindMaterial, 10, now.Add(-48*time.Hour))
	expired.ExpiresAt = &past
	fresh := newTestEntry("fresh", content.KindMaterial, 10, now)
	fresh.ExpiresAt = &future
	forever := newTestEntry("forever", content.KindMaterial, 10, now)

	for _, e := range []*content.Entry{expired, fresh, forever} {
		require.NoError(t, UpsertContent(ctx, db, e))
	}

	ids, err := DeleteExpired(ctx, db, now)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, ids)

	count, total, err := ContentTotals(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, int64(20), total)
}

func TestUpdateContentProgress(t *testing.T) {
	db := initTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, UpsertContent(ctx, db, newTestEntry("v1", content.KindVideo, 10, created)))

	pos := 30.0
	accessed := created.Add(time.Hour)
	err := UpdateContentProgress(ctx, db, "v1", content.Progress{Percentage: 5, TimeSpentSeconds: 30, LastPosition: &pos}, accessed)
	require.NoError(t, err)

	got, err := GetContent(ctx, db, "v1")
	require.NoError(t, err)
	require.Equal(t, 5.0, got.Progress.Percentage)
	require.Equal(t, 30, got.Progress.TimeSpentSeconds)
	require.Equal(t, 30.0, *got.Progress.LastPosition)
	require.True(t, got.LastAccessedAt.Equal(accessed))
	require.True(t, got.DownloadedAt.Equal(created))

	err = UpdateContentProgress(ctx, db, "missing", content.Progress{}, accessed)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestContentTotals_Empty(t *testing.T) {
	db := initTestDB(t)

	count, total, err := ContentTotals(context.Background(), db)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, total)
}
