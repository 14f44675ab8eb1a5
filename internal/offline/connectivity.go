package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor tracks whether the remote service is reachable. It only observes;
// callers and the probe watcher report state through Set.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	onChange func(online bool)
	logger   *slog.Logger
}

// NewMonitor creates a Monitor in the given state. onChange, if non-nil, is
// called once for every transition.
func NewMonitor(initial bool, onChange func(online bool), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{online: initial, onChange: onChange, logger: logger}
}

// Online reports the last recorded state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and reports whether it changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return false
	}
	m.logger.Info("connectivity changed", "online", online)
	if m.onChange != nil {
		m.onChange(online)
	}
	return true
}

// Watch checks probe immediately and then every interval, feeding the result
// into Set. It returns when ctx is done.
func (m *Monitor) Watch(ctx context.Context, probe Probe, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		online := probe.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		m.Set(online)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
