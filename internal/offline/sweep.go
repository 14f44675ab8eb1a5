package offline

import (
	"context"
	"time"

	"github.com/hpungsan/ferry/internal/db"
)

// SweepExpired deletes every entry whose retention window has elapsed and
// returns how many were removed. Sweeps do not enqueue sync entries.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := db.DeleteExpired(ctx, s.db, s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Info("expired content swept", "count", len(ids))
		for _, id := range ids {
			s.notify(Event{Kind: EventContentChanged, ContentID: id})
		}
	}
	return len(ids), nil
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("expiry sweep failed", "error", err)
			}
		}
	}
}
