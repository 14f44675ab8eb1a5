package offline

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
)

// Playback accumulates viewing time for one entry and flushes it through
// UpdateProgress. Each Tick is one second of viewing. For content with a known
// duration the position advances with time and the percentage follows it,
// never dropping below the percentage stored when the session began.
//
// Flushes happen every FlushEverySeconds ticks, once when the percentage first
// reaches the completion threshold, and on Pause or Stop. Reaching the
// threshold does not mark the entry completed.
type Playback struct {
	svc        *Service
	id         string
	duration   float64
	timed      bool
	flushEvery int

	// percentage stored when the session began; flushes never report less
	floor float64

	mu           sync.Mutex
	position     float64
	timeSpent    int
	pending      int
	thresholdHit bool

	// last flushed values, restored by Cancel
	flushedTime int
	flushedPos  float64

	cancel context.CancelFunc
	done   chan struct{}
}

// Playback starts a session for id from its stored progress.
func (s *Service) Playback(ctx context.Context, id string) (*Playback, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Progress == nil {
		return nil, errors.NewProgressUninitialized(id)
	}

	p := &Playback{
		svc:          s,
		id:           id,
		flushEvery:   s.cfg.FlushEverySeconds,
		timeSpent:    e.Progress.TimeSpentSeconds,
		floor:        content.ClampPercentage(e.Progress.Percentage),
		thresholdHit: content.ReachedThreshold(e.Progress.Percentage),
	}
	if p.flushEvery <= 0 {
		p.flushEvery = 10
	}
	p.duration, p.timed = e.Duration()
	switch {
	case e.Progress.LastPosition != nil:
		p.position = *e.Progress.LastPosition
		if p.timed {
			p.position = min(p.position, p.duration)
		}
	case p.timed:
		// Resume where the stored percentage puts us.
		p.position = p.floor * p.duration / 100
	}
	p.flushedTime, p.flushedPos = p.timeSpent, p.position
	return p, nil
}

// Position returns the current playback position in seconds.
func (p *Playback) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// TimeSpent returns the accumulated viewing time in seconds.
func (p *Playback) TimeSpent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeSpent
}

// Playing reports whether the ticker is running.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Tick advances playback by one second and flushes when due.
func (p *Playback) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timeSpent++
	p.pending++
	if p.timed {
		p.position = min(p.position+1, p.duration)
	}

	due := p.pending >= p.flushEvery
	if p.timed && !p.thresholdHit && content.ReachedThreshold(p.percentage()) {
		p.thresholdHit = true
		due = true
	}
	if !due {
		return nil
	}
	return p.flushLocked(ctx)
}

// Play starts a ticker that calls Tick every second until Pause, Stop, or
// Cancel. Calling Play while playing is a no-op.
func (p *Playback) Play(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, p.done)
}

func (p *Playback) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.svc.logger.Warn("playback flush failed", "id", p.id, "error", err)
				if errors.Is(err, errors.ErrNotFound) {
					return
				}
			}
		}
	}
}

// Pause stops the ticker and flushes accumulated progress.
func (p *Playback) Pause(ctx context.Context) error {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return nil
	}
	return p.flushLocked(ctx)
}

// Stop ends the session, flushing accumulated progress.
func (p *Playback) Stop(ctx context.Context) error {
	return p.Pause(ctx)
}

// Cancel ends the session and discards progress accumulated since the last
// flush.
func (p *Playback) Cancel() {
	p.halt()

	p.mu.Lock()
	p.timeSpent, p.position = p.flushedTime, p.flushedPos
	p.pending = 0
	p.mu.Unlock()
}

func (p *Playback) halt() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Playback) percentage() float64 {
	if !p.timed {
		return 0
	}
	return max(p.floor, content.ClampPercentage(p.position*100/p.duration))
}

// flushLocked writes accumulated progress. Callers hold p.mu.
func (p *Playback) flushLocked(ctx context.Context) error {
	spent := p.timeSpent
	patch := content.ProgressPatch{TimeSpentSeconds: &spent}
	if p.timed {
		pos, pct := p.position, p.percentage()
		patch.LastPosition = &pos
		patch.Percentage = &pct
	}
	if _, err := p.svc.UpdateProgress(ctx, p.id, patch); err != nil {
		return err
	}
	p.pending = 0
	p.flushedTime, p.flushedPos = p.timeSpent, p.position
	return nil
}
