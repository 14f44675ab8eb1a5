package offline

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/db"
	"github.com/hpungsan/ferry/internal/errors"
)

// UpdateProgress merges patch into the entry's progress and queues the change
// for sync. Both writes commit together or not at all.
func (s *Service) UpdateProgress(ctx context.Context, id string, patch content.ProgressPatch) (*content.Entry, error) {
	if patch.IsEmpty() {
		return nil, errors.NewInvalidRequest("progress patch sets no fields")
	}
	return s.applyProgress(ctx, id, content.CategoryProgress, func(*content.Entry) content.ProgressPatch {
		return patch
	})
}

// MarkComplete sets the entry completed at 100% and, for content with a
// known duration, moves the position to the end.
func (s *Service) MarkComplete(ctx context.Context, id string) (*content.Entry, error) {
	return s.applyProgress(ctx, id, content.CategoryCompletion, func(e *content.Entry) content.ProgressPatch {
		done, full := true, 100.0
		patch := content.ProgressPatch{Completed: &done, Percentage: &full}
		if d, ok := e.Duration(); ok {
			patch.LastPosition = &d
		}
		return patch
	})
}

func (s *Service) applyProgress(ctx context.Context, id string, category content.Category, build func(*content.Entry) content.ProgressPatch) (*content.Entry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated *content.Entry
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		e, err := db.GetContent(ctx, tx, id)
		if err != nil {
			return err
		}
		if e.Progress == nil {
			return errors.NewProgressUninitialized(id)
		}

		patch := build(e)
		next := patch.Apply(*e.Progress)
		now := s.now().UTC()
		if err := db.UpdateContentProgress(ctx, tx, id, next, now); err != nil {
			return err
		}

		data, err := json.Marshal(content.ProgressEvent{ContentID: id, ProgressDelta: patch.Effective(next)})
		if err != nil {
			return errors.NewInternal(err)
		}
		if _, err := s.enqueue(ctx, tx, category, content.OperationUpdate, data, now); err != nil {
			return err
		}

		e.Progress = &next
		e.LastAccessedAt = now
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(Event{Kind: EventContentChanged, ContentID: id})
	s.notify(Event{Kind: EventQueueChanged, ContentID: id})
	return updated, nil
}

// Enqueue queues an arbitrary learner event (a note, bookmark, or quiz
// result) for sync. data must be a JSON document.
func (s *Service) Enqueue(ctx context.Context, category content.Category, op content.Operation, data json.RawMessage) (*content.SyncEntry, error) {
	if !content.ValidCategory(category) {
		return nil, errors.NewInvalidRequest("unknown sync category: " + string(category))
	}
	if !content.ValidOperation(op) {
		return nil, errors.NewInvalidRequest("unknown sync operation: " + string(op))
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, errors.NewInvalidRequest("data must be valid JSON")
	}

	entry, err := s.enqueue(ctx, s.db, category, op, data, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.notify(Event{Kind: EventQueueChanged})
	return entry, nil
}

func (s *Service) enqueue(ctx context.Context, q db.Querier, category content.Category, op content.Operation, data json.RawMessage, at time.Time) (*content.SyncEntry, error) {
	id, err := generateULID(at)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	entry := &content.SyncEntry{
		ID:         id,
		Category:   category,
		Operation:  op,
		Data:       data,
		EnqueuedAt: at,
	}
	if err := db.InsertSyncEntry(ctx, q, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// generateULID creates a new ULID for a sync entry.
func generateULID(at time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(at), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
