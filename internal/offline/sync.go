package offline

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/db"
)

// Reasons a drain pass did not run.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
	SkipEmpty      = "empty"
)

// SyncResult describes one drain pass.
type SyncResult struct {
	Skipped      string     `json:"skipped,omitempty"`
	Attempted    int        `json:"attempted"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	DeadLettered int        `json:"deadLettered"`
	Interrupted  bool       `json:"interrupted,omitempty"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
}

// SyncPendingChanges delivers queued entries in FIFO order. Entries queued
// after the pass begins wait for the next pass. A failed entry stays queued
// with its retry count raised, unless MaxRetries is set and reached, in which
// case it moves to the dead-letter table. The pass continues past failures.
//
// The pass is skipped while offline, while another pass runs, or when the
// queue is empty. Losing connectivity or canceling ctx stops the pass early,
// and such an interrupted pass does not update lastSyncAt: Stats keeps
// reporting the end of the last pass that ran to completion, even though
// some entries may have been delivered since. Only completed passes, with
// or without failed entries, move lastSyncAt forward.
func (s *Service) SyncPendingChanges(ctx context.Context) (*SyncResult, error) {
	if !s.monitor.Online() {
		return &SyncResult{Skipped: SkipOffline}, nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return &SyncResult{Skipped: SkipInProgress}, nil
	}
	defer s.syncing.Store(false)

	entries, err := db.ListSyncQueue(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &SyncResult{Skipped: SkipEmpty}, nil
	}

	s.notify(Event{Kind: EventSyncStarted})
	defer s.notify(Event{Kind: EventSyncFinished})

	logger := s.logger.With("pending", len(entries))
	logger.Info("sync pass started")

	res := &SyncResult{}
	for _, entry := range entries {
		if ctx.Err() != nil || !s.monitor.Online() {
			res.Interrupted = true
			break
		}
		res.Attempted++

		if err := s.syncer.Apply(ctx, entry); err != nil {
			if ctx.Err() != nil {
				res.Attempted--
				res.Interrupted = true
				break
			}
			res.Failed++
			if s.recordFailure(ctx, entry, err) {
				res.DeadLettered++
			}
			continue
		}

		// The remote has the entry; drop it even if ctx ends now.
		if err := db.DeleteSyncEntry(context.WithoutCancel(ctx), s.db, entry.ID); err != nil {
			logger.Warn("failed to remove synced entry", "entry_id", entry.ID, "error", err)
			continue
		}
		res.Succeeded++
	}
	if res.Attempted > 0 {
		s.notify(Event{Kind: EventQueueChanged})
	}

	if res.Interrupted {
		logger.Info("sync pass interrupted", "attempted", res.Attempted, "succeeded", res.Succeeded)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, nil
	}

	now := s.now().UTC()
	if err := db.SetLastSyncAt(ctx, s.db, now); err != nil {
		return res, err
	}
	res.LastSyncAt = &now
	logger.Info("sync pass finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"dead_lettered", res.DeadLettered,
	)
	return res, nil
}

// recordFailure bumps the entry's retry count and dead-letters it once
// MaxRetries is reached, in one transaction. The bookkeeping outlives ctx so
// a canceled pass still counts the failure. Reports whether the entry was
// dead-lettered.
func (s *Service) recordFailure(ctx context.Context, entry content.SyncEntry, cause error) bool {
	ctx = context.WithoutCancel(ctx)
	var retries int
	moved := false
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		retries, err = db.RecordSyncFailure(ctx, tx, entry.ID, cause.Error())
		if err != nil {
			return err
		}
		if s.cfg.MaxRetries <= 0 || retries < s.cfg.MaxRetries {
			return nil
		}
		moved = true
		return db.MoveToDeadLetter(ctx, tx, entry.ID, s.now().UTC())
	})
	if err != nil {
		s.logger.Warn("failed to record sync failure", "entry_id", entry.ID, "error", err)
		return false
	}
	if !moved {
		s.logger.Debug("sync entry failed", "entry_id", entry.ID, "retry_count", retries, "error", cause)
		return false
	}
	s.logger.Warn("sync entry dead-lettered", "entry_id", entry.ID, "category", entry.Category, "retry_count", retries)
	return true
}

// IsSyncing reports whether a drain pass is running.
func (s *Service) IsSyncing() bool { return s.syncing.Load() }

// Queue returns pending sync entries in FIFO order.
func (s *Service) Queue(ctx context.Context) ([]content.SyncEntry, error) {
	return db.ListSyncQueue(ctx, s.db)
}

// DeadLetters returns entries set aside after exhausting their retries.
func (s *Service) DeadLetters(ctx context.Context) ([]content.DeadLetter, error) {
	return db.ListDeadLetters(ctx, s.db)
}

// Requeue moves a dead-lettered entry back to the end of the queue with its
// retry count reset.
func (s *Service) Requeue(ctx context.Context, id string) (*content.SyncEntry, error) {
	var entry *content.SyncEntry
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		entry, err = db.RequeueDeadLetter(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(Event{Kind: EventQueueChanged})
	return entry, nil
}
