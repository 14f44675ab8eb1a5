package offline

import (
	"context"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/db"
)

// Stats aggregates the store. Only LastSyncAt is persisted; the rest is
// computed on demand.
type Stats struct {
	ItemCount         int        `json:"itemCount"`
	TotalSizeBytes    int64      `json:"totalSizeBytes"`
	LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
	PendingCount      int        `json:"pendingCount"`
	DeadLetterCount   int        `json:"deadLetterCount"`
	StorageUsedBytes  int64      `json:"storageUsedBytes"`
	StorageLimitBytes int64      `json:"storageLimitBytes"`
}

// State is everything a presentation layer reads, captured at once.
type State struct {
	IsOnline          bool                `json:"isOnline"`
	IsSyncing         bool                `json:"isSyncing"`
	DownloadedContent []content.Summary   `json:"downloadedContent"`
	SyncQueue         []content.SyncEntry `json:"syncQueue"`
	DownloadProgress  map[string]float64  `json:"downloadProgress"`
	Stats             *Stats              `json:"stats"`
}

// Stats returns current aggregates.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	count, total, err := db.ContentTotals(ctx, s.db)
	if err != nil {
		return nil, err
	}
	pending, err := db.CountSyncQueue(ctx, s.db)
	if err != nil {
		return nil, err
	}
	dead, err := db.CountDeadLetters(ctx, s.db)
	if err != nil {
		return nil, err
	}
	last, err := db.LastSyncAt(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ItemCount:         count,
		TotalSizeBytes:    total,
		LastSyncAt:        last,
		PendingCount:      pending,
		DeadLetterCount:   dead,
		StorageUsedBytes:  total,
		StorageLimitBytes: s.cfg.StorageLimitBytes,
	}, nil
}

// Snapshot reads every signal in one call.
func (s *Service) Snapshot(ctx context.Context) (*State, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := s.Queue(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]content.Summary, len(entries))
	for i := range entries {
		summaries[i] = entries[i].Summarize()
	}
	return &State{
		IsOnline:          s.IsOnline(),
		IsSyncing:         s.IsSyncing(),
		DownloadedContent: summaries,
		SyncQueue:         queue,
		DownloadProgress:  s.DownloadProgress(),
		Stats:             stats,
	}, nil
}
