package tracker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager hands out one Tracker per worker and drives the periodic
// background-sync pass. The background pass shares nothing with the
// request path except the durable stores and the idempotent primitives,
// so the two contexts cannot disagree for long.
type Manager struct {
	deps Deps
	cfg  Config

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		trackers: map[string]*Tracker{},
	}
}

func (m *Manager) Tracker(workerID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[workerID]
	if !ok {
		t = NewTracker(workerID, m.deps, m.cfg)
		m.trackers[workerID] = t
	}
	return t
}

func (m *Manager) snapshot() []*Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		out = append(out, t)
	}
	return out
}

// RunBackgroundSync reconciles every known worker on a fixed interval
// until the context is cancelled.
func (m *Manager) RunBackgroundSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range m.snapshot() {
				if _, err := t.Reconcile(ctx); err != nil {
					log.Printf("background reconcile for %s: %v", t.workerID, err)
				}
			}
		}
	}
}
