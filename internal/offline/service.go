// Package offline keeps learning content usable without a network: it caches
// downloaded entries, tracks progress against them, and queues every local
// mutation until the remote service acknowledges it.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/content"
)

// Fetched is what a Fetcher returns for one content item.
type Fetched struct {
	Title     string
	Subject   string
	SizeBytes int64
	ExpiresAt *time.Time
	Metadata  content.TypeMetadata
	Payload   json.RawMessage
}

// Fetcher retrieves a content item from the remote service. onProgress is
// called with values in [0,100] as the transfer advances.
type Fetcher interface {
	Fetch(ctx context.Context, id string, kind content.Kind, onProgress func(pct float64)) (*Fetched, error)
}

// Sizer is implemented by fetchers that can report an item's size before
// transferring it. Downloads reserve storage budget up front when available.
type Sizer interface {
	Size(ctx context.Context, id string, kind content.Kind) (int64, error)
}

// Syncer delivers one queued entry to the remote service.
type Syncer interface {
	Apply(ctx context.Context, entry content.SyncEntry) error
}

// Probe reports whether the remote service is reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// EventKind names what changed.
type EventKind string

const (
	EventContentChanged   EventKind = "content_changed"
	EventDownloadProgress EventKind = "download_progress"
	EventQueueChanged     EventKind = "queue_changed"
	EventSyncStarted      EventKind = "sync_started"
	EventSyncFinished     EventKind = "sync_finished"
	EventConnectivity     EventKind = "connectivity"
)

// Event is delivered to subscribers after a state change.
type Event struct {
	Kind      EventKind `json:"kind"`
	ContentID string    `json:"contentId,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithProbe enables the connectivity watcher started by Start.
func WithProbe(p Probe) Option {
	return func(s *Service) { s.probe = p }
}

// WithInitialOnline sets the connectivity state before the first probe.
// Defaults to online.
func WithInitialOnline(online bool) Option {
	return func(s *Service) { s.initialOnline = online }
}

// Service owns the offline cache and sync queue. It is safe for concurrent use.
type Service struct {
	db      *sql.DB
	cfg     *config.Config
	fetcher Fetcher
	syncer  Syncer
	probe   Probe
	monitor *Monitor
	logger  *slog.Logger
	now     func() time.Time

	initialOnline bool

	// writeMu serializes progress read-modify-write cycles.
	writeMu sync.Mutex

	// budgetMu guards reserved and every capacity check.
	budgetMu sync.Mutex
	reserved map[string]int64

	flightMu  sync.Mutex
	flights   map[string]*flight
	flightSeq uint64
	downloads singleflight.Group

	progressMu sync.RWMutex
	progress   map[string]float64

	syncing atomic.Bool
	started atomic.Bool

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New creates a Service over an initialized database. A nil cfg uses defaults.
func New(database *sql.DB, cfg *config.Config, fetcher Fetcher, syncer Syncer, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Service{
		db:            database,
		cfg:           cfg,
		fetcher:       fetcher,
		syncer:        syncer,
		logger:        slog.Default(),
		now:           time.Now,
		initialOnline: true,
		reserved:      make(map[string]int64),
		progress:      make(map[string]float64),
		flights:       make(map[string]*flight),
		subs:          make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "offline")
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	s.monitor = NewMonitor(s.initialOnline, s.onConnectivityChange, s.logger)
	return s
}

// Start runs a startup sweep and launches the periodic sweep and, when a
// probe is configured, the connectivity watcher. Calling Start again is a no-op.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := s.SweepExpired(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(s.bgCtx, s.cfg.SweepInterval())
	}()

	if s.probe != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.monitor.Watch(s.bgCtx, s.probe, s.cfg.ProbeInterval())
		}()
	}
	return nil
}

// Close stops background loops and waits for in-flight background syncs.
func (s *Service) Close() error {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	s.bgCancel()
	s.wg.Wait()
	return nil
}

// Monitor returns the connectivity monitor.
func (s *Service) Monitor() *Monitor { return s.monitor }

// SetOnline records a connectivity change. Going online triggers a sync.
func (s *Service) SetOnline(online bool) {
	s.monitor.Set(online)
}

// IsOnline reports the last observed connectivity state.
func (s *Service) IsOnline() bool { return s.monitor.Online() }

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs synchronously on the mutating goroutine and must
// not block.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Service) notify(ev Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// onConnectivityChange runs once per transition. Coming back online starts
// a background drain.
func (s *Service) onConnectivityChange(online bool) {
	s.notify(Event{Kind: EventConnectivity})
	if !online {
		return
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.SyncPendingChanges(s.bgCtx); err != nil {
			s.logger.Warn("sync after reconnect failed", "error", err)
		}
	}()
}
