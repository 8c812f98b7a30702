package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"
	"backend-shoptrack/internal/settings"
	"backend-shoptrack/internal/shared/geo"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeLedger struct {
	mu          sync.Mutex
	unavailable bool
	now         func() time.Time
	seq         int
	sessions    map[string]*ledger.Session
}

func newFakeLedger(now func() time.Time) *fakeLedger {
	return &fakeLedger{now: now, sessions: map[string]*ledger.Session{}}
}

func (f *fakeLedger) err() error {
	return fmt.Errorf("%w: dial tcp: refused", ledger.ErrStoreUnavailable)
}

func (f *fakeLedger) Open(_ context.Context, workerID string, kind ledger.Kind, date string, start *geo.Point) (ledger.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return ledger.Session{}, f.err()
	}
	f.seq++
	sess := ledger.Session{
		ID:        fmt.Sprintf("ledger-%d", f.seq),
		WorkerID:  workerID,
		Kind:      kind,
		Date:      date,
		StartedAt: f.now(),
	}
	if kind == ledger.KindTrip && start != nil {
		sess.Path = []geo.Point{*start}
	}
	f.sessions[sess.ID] = &sess
	return sess, nil
}

func (f *fakeLedger) Close(_ context.Context, sessionID string) (int64, error) {
	return f.closeAt(sessionID, f.now())
}

func (f *fakeLedger) CloseAt(_ context.Context, sessionID string, end time.Time) (int64, error) {
	return f.closeAt(sessionID, end)
}

func (f *fakeLedger) closeAt(sessionID string, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, f.err()
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("session %s not found", sessionID)
	}
	if sess.EndedAt != nil {
		return *sess.DurationMs, nil
	}
	d := end.Sub(sess.StartedAt).Milliseconds()
	sess.EndedAt = &end
	sess.DurationMs = &d
	return d, nil
}

func (f *fakeLedger) FindOpen(_ context.Context, workerID string) (*ledger.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, f.err()
	}
	for _, sess := range f.sessions {
		if sess.WorkerID == workerID && sess.EndedAt == nil {
			copied := *sess
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) AppendPathPoints(_ context.Context, sessionID string, points []geo.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[sessionID]; ok {
		sess.Path = append(sess.Path, points...)
	}
}

func (f *fakeLedger) Import(_ context.Context, in ledger.Session) (ledger.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return ledger.Session{}, f.err()
	}
	ref := in.ClientRef
	if ref == "" {
		ref = in.ID
	}
	for _, sess := range f.sessions {
		if sess.WorkerID == in.WorkerID && sess.ClientRef == ref {
			return *sess, nil
		}
	}
	f.seq++
	migrated := in
	migrated.ID = fmt.Sprintf("ledger-%d", f.seq)
	migrated.ClientRef = ref
	migrated.Pending = false
	f.sessions[migrated.ID] = &migrated
	return migrated, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	sessions map[string]ledger.Session
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{sessions: map[string]ledger.Session{}}
}

func (f *fakeQueue) Put(_ context.Context, sess ledger.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeQueue) Get(_ context.Context, _, id string) (*ledger.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (f *fakeQueue) ListAll(_ context.Context, _ string) ([]ledger.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		out = append(out, sess)
	}
	return out, nil
}

func (f *fakeQueue) Remove(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeQueue) AppendPathPoints(_ context.Context, _, id string, points []geo.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("offline session %s not found", id)
	}
	sess.Path = append(sess.Path, points...)
	f.sessions[id] = sess
	return nil
}

type fakePointer struct {
	mu     sync.Mutex
	active *offline.ActiveSession
}

func (f *fakePointer) Get(_ context.Context, _ string) (*offline.ActiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, nil
	}
	copied := *f.active
	return &copied, nil
}

func (f *fakePointer) Set(_ context.Context, _ string, active offline.ActiveSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = &active
	return nil
}

func (f *fakePointer) Clear(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	return nil
}

type fakeSummary struct {
	mu        sync.Mutex
	shopMs    map[string]int64
	tripMs    map[string]int64
	refreshed map[string]int
}

func newFakeSummary() *fakeSummary {
	return &fakeSummary{shopMs: map[string]int64{}, tripMs: map[string]int64{}, refreshed: map[string]int{}}
}

func (f *fakeSummary) ApplyDelta(_ context.Context, _, date string, kind ledger.Kind, durationMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == ledger.KindTrip {
		f.tripMs[date] += durationMs
	} else {
		f.shopMs[date] += durationMs
	}
	return nil
}

func (f *fakeSummary) Refresh(_ context.Context, _, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed[date]++
	return nil
}

type fakeSettings struct {
	settings settings.Settings
}

func (f *fakeSettings) Get(_ context.Context, workerID string) (settings.Settings, error) {
	out := f.settings
	out.WorkerID = workerID
	return out, nil
}
