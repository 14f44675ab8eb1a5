package offline

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/db"
	"github.com/hpungsan/ferry/internal/errors"
)

// Download fetches an item and stores it for offline use, replacing any
// earlier copy with fresh progress. Nothing is stored unless the whole
// transfer succeeds and fits the storage budget. Concurrent downloads of the
// same id share one transfer, which keeps running while any caller still
// waits for it. A caller whose ctx ends gets DOWNLOAD_CANCELED without
// affecting the others.
func (s *Service) Download(ctx context.Context, id string, kind content.Kind) (*content.Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	k, ok := content.ParseKind(string(kind))
	if !ok {
		return nil, errors.NewInvalidRequest("unknown content kind: " + string(kind))
	}

	f, ch, err := s.joinDownload(ctx, id, k)
	if err != nil {
		return nil, err
	}
	defer s.leaveDownload(id, f)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*content.Entry), nil
	case <-ctx.Done():
		return nil, errors.NewDownloadCanceled(id, ctx.Err())
	}
}

// flight is one shared transfer. It runs detached from any single caller
// and is canceled once every waiter has left or the service closes.
type flight struct {
	key     string
	kind    content.Kind
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// joinDownload attaches the caller to the in-flight transfer for id, starting
// one if none runs. A transfer of the same id under another kind is refused.
func (s *Service) joinDownload(ctx context.Context, id string, kind content.Kind) (*flight, <-chan singleflight.Result, error) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if f, ok := s.flights[id]; ok {
		if f.kind != kind {
			return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("download of %s as %s already in progress", id, f.kind))
		}
		f.waiters++
		return f, s.downloads.DoChan(f.key, func() (any, error) {
			return nil, errors.NewDownloadCanceled(id, context.Canceled)
		}), nil
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil, nil, errors.NewDownloadCanceled(id, context.Canceled)
	}

	s.flightSeq++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		key:     fmt.Sprintf("%s#%d", id, s.flightSeq),
		kind:    kind,
		ctx:     fctx,
		cancel:  cancel,
		waiters: 1,
	}
	s.flights[id] = f
	stop := context.AfterFunc(s.bgCtx, cancel)
	s.wg.Add(1)
	ch := s.downloads.DoChan(f.key, func() (any, error) {
		defer s.wg.Done()
		defer stop()
		defer func() {
			s.flightMu.Lock()
			if s.flights[id] == f {
				delete(s.flights, id)
			}
			s.flightMu.Unlock()
			cancel()
		}()
		return s.download(f.ctx, id, kind)
	})
	return f, ch, nil
}

// leaveDownload detaches a waiter. The last one to leave cancels the transfer.
func (s *Service) leaveDownload(id string, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if s.flights[id] == f {
		delete(s.flights, id)
	}
	f.cancel()
}

func (s *Service) download(ctx context.Context, id string, kind content.Kind) (*content.Entry, error) {
	s.setDownloadProgress(id, 0)
	defer s.clearDownloadProgress(id)

	// Reserve budget when the size is known before the transfer.
	var expected int64
	if sizer, ok := s.fetcher.(Sizer); ok {
		size, err := sizer.Size(ctx, id, kind)
		if err != nil {
			return nil, s.downloadError(ctx, id, err)
		}
		expected = max(size, 0)
	}
	release, err := s.reserve(ctx, id, expected)
	if err != nil {
		return nil, err
	}
	defer release()

	fetched, err := s.fetcher.Fetch(ctx, id, kind, func(pct float64) {
		s.setDownloadProgress(id, content.ClampPercentage(pct))
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, s.downloadError(ctx, id, err)
	}
	if fetched == nil {
		return nil, errors.NewDownloadFailed(id, errors.NewInvalidRequest("fetcher returned no content"))
	}

	size := fetched.SizeBytes
	if size <= 0 {
		size = int64(len(fetched.Payload))
	}
	now := s.now().UTC()
	entry := &content.Entry{
		ID:             id,
		Kind:           kind,
		Title:          fetched.Title,
		Subject:        fetched.Subject,
		SizeBytes:      size,
		DownloadedAt:   now,
		LastAccessedAt: now,
		ExpiresAt:      fetched.ExpiresAt,
		Metadata:       fetched.Metadata,
		Payload:        fetched.Payload,
		Progress:       content.NewProgress(),
	}

	s.budgetMu.Lock()
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		used, err := s.usedExcluding(ctx, tx, id)
		if err != nil {
			return err
		}
		if limit := s.cfg.StorageLimitBytes; limit > 0 && used+size > limit {
			return errors.NewCapacityExceeded(id, used, size, limit)
		}
		return db.UpsertContent(ctx, tx, entry)
	})
	s.budgetMu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewDownloadCanceled(id, err)
		}
		s.logger.Warn("download commit failed", "id", id, "error", err)
		return nil, err
	}

	s.setDownloadProgress(id, 100)
	s.logger.Info("content downloaded", "id", id, "kind", kind, "size_bytes", size)
	s.notify(Event{Kind: EventContentChanged, ContentID: id})
	return entry, nil
}

// downloadError classifies a fetch failure.
func (s *Service) downloadError(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil {
		s.logger.Info("download canceled", "id", id)
		return errors.NewDownloadCanceled(id, err)
	}
	s.logger.Warn("download failed", "id", id, "error", err)
	return errors.NewDownloadFailed(id, err)
}

// reserve claims size bytes of budget for id until release is called.
func (s *Service) reserve(ctx context.Context, id string, size int64) (func(), error) {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()

	if limit := s.cfg.StorageLimitBytes; limit > 0 {
		used, err := s.usedExcluding(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if used+size > limit {
			return nil, errors.NewCapacityExceeded(id, used, size, limit)
		}
	}
	s.reserved[id] = size
	return func() {
		s.budgetMu.Lock()
		delete(s.reserved, id)
		s.budgetMu.Unlock()
	}, nil
}

// usedExcluding returns stored bytes plus bytes reserved by other in-flight
// downloads, not counting the current copy of id. Callers hold budgetMu.
func (s *Service) usedExcluding(ctx context.Context, q db.Querier, id string) (int64, error) {
	_, total, err := db.ContentTotals(ctx, q)
	if err != nil {
		return 0, err
	}
	existing, _, err := db.ContentSize(ctx, q, id)
	if err != nil {
		return 0, err
	}
	used := total - existing
	for other, n := range s.reserved {
		if other != id {
			used += n
		}
	}
	return used, nil
}

func (s *Service) setDownloadProgress(id string, pct float64) {
	s.progressMu.Lock()
	s.progress[id] = pct
	s.progressMu.Unlock()
	s.notify(Event{Kind: EventDownloadProgress, ContentID: id})
}

func (s *Service) clearDownloadProgress(id string) {
	s.progressMu.Lock()
	delete(s.progress, id)
	s.progressMu.Unlock()
	s.notify(Event{Kind: EventDownloadProgress, ContentID: id})
}

// DownloadProgress returns the percentage of every in-flight download.
func (s *Service) DownloadProgress() map[string]float64 {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return maps.Clone(s.progress)
}

// Remove deletes a stored entry. Removing an absent id is not an error.
func (s *Service) Remove(ctx context.Context, id string) error {
	deleted, err := db.DeleteContent(ctx, s.db, id)
	if err != nil {
		return err
	}
	if deleted {
		s.logger.Info("content removed", "id", id)
		s.notify(Event{Kind: EventContentChanged, ContentID: id})
	}
	return nil
}

// Get returns a stored entry or NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (*content.Entry, error) {
	return db.GetContent(ctx, s.db, id)
}

// List returns every stored entry in download order.
func (s *Service) List(ctx context.Context) ([]content.Entry, error) {
	return db.ListContent(ctx, s.db)
}

// IsAvailable reports whether id is stored. Lookup failures report false.
func (s *Service) IsAvailable(ctx context.Context, id string) bool {
	ok, err := db.ContentExists(ctx, s.db, id)
	if err != nil {
		s.logger.Warn("availability lookup failed", "id", id, "error", err)
		return false
	}
	return ok
}
