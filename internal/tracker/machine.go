package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"
	"backend-shoptrack/internal/shared/geo"
	"backend-shoptrack/internal/shared/workhours"
)

// Tracker runs the geofence state machine for one worker. All state
// transitions funnel through the same idempotent open/close primitives
// the reconciliation pass uses, so the two can race safely.
type Tracker struct {
	workerID string
	ledger   Ledger
	queue    OfflineStore
	pointer  PointerStore
	summary  SummaryStore
	settings SettingsSource
	hub      Broadcaster
	cfg      Config
	now      func() time.Time

	mu     sync.Mutex
	recMu  sync.Mutex
	cold   bool
	online bool
	status Status
	reason string
	active *offline.ActiveSession

	lastPos   *geo.Point
	lastFix   time.Time
	pathBuf   []geo.Point
	lastFlush time.Time
}

func NewTracker(workerID string, deps Deps, cfg Config) *Tracker {
	return &Tracker{
		workerID: workerID,
		ledger:   deps.Ledger,
		queue:    deps.Queue,
		pointer:  deps.Pointer,
		summary:  deps.Summary,
		settings: deps.Settings,
		hub:      deps.Hub,
		cfg:      cfg,
		now:      time.Now,
		cold:     true,
		online:   true,
		status:   StatusIdle,
	}
}

// OnPosition feeds one location sample through the transition table.
// While on a trip the sample only extends the path; trips end solely on
// explicit user action.
func (t *Tracker) OnPosition(ctx context.Context, pos geo.Point, at time.Time) (StatusView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cold {
		if _, err := t.reconcileLocked(ctx); err != nil {
			log.Printf("cold reconcile for %s: %v", t.workerID, err)
		}
	}

	if at.IsZero() {
		at = t.now()
	}
	t.lastPos = &pos
	t.lastFix = at

	if t.status == StatusOnTrip {
		t.bufferPathPointLocked(ctx, pos, at)
		return t.statusViewLocked(), nil
	}

	st, err := t.settings.Get(ctx, t.workerID)
	if err != nil {
		return t.statusViewLocked(), err
	}
	if st.ShopCenter == nil {
		t.reason = "shop location not set"
		return t.statusViewLocked(), nil
	}

	working := st.Window().Contains(at)
	inside := geo.WithinRadius(st.ShopCenter, &pos, st.RadiusM)
	inShop := t.status == StatusInShop

	switch {
	case working && inside && !inShop:
		if !t.online {
			// Shop sessions are never created offline; the transition is
			// deferred until reconciliation runs with the ledger reachable.
			t.reason = "offline, shop session deferred"
			break
		}
		if err := t.closeActiveLocked(ctx, at, false); err != nil {
			if t.deferOnUnavailableLocked(err, "offline, shop session deferred") {
				break
			}
			return t.statusViewLocked(), err
		}
		if err := t.openLocked(ctx, ledger.KindShop, &pos, at); err != nil {
			if t.deferOnUnavailableLocked(err, "offline, shop session deferred") {
				break
			}
			return t.statusViewLocked(), err
		}
	case (!working || !inside) && inShop:
		end, clamp := at, false
		if !working && t.active != nil {
			// A sample arriving after the window end closes at the
			// boundary, same as the reconcile day-end rule, so late
			// samples never bill past-window minutes.
			if boundary := st.Window().EndOn(t.active.StartedAt); at.After(boundary) {
				end, clamp = boundary, true
				if end.Before(t.active.StartedAt) {
					end = t.active.StartedAt
				}
			}
		}
		if err := t.closeActiveLocked(ctx, end, clamp); err != nil {
			if t.deferOnUnavailableLocked(err, "offline, close deferred") {
				break
			}
			return t.statusViewLocked(), err
		}
		t.status = StatusIdle
		if !working {
			t.reason = "outside working hours"
		} else {
			t.reason = "outside geofence"
		}
	}

	t.publishStatusLocked()
	return t.statusViewLocked(), nil
}

// OnLocationError pauses geofence evaluation. Once the grace period
// passes without a fix, an open shop session is closed defensively since
// "inside shop" can no longer be asserted.
func (t *Tracker) OnLocationError(ctx context.Context, reason string) (StatusView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reason = "location unavailable: " + reason
	if t.status == StatusInShop && t.now().Sub(t.lastFix) >= t.cfg.LocationGrace {
		now := t.now()
		if err := t.closeActiveLocked(ctx, now, false); err != nil {
			if !t.deferOnUnavailableLocked(err, "offline, close deferred") {
				return t.statusViewLocked(), err
			}
		} else {
			t.status = StatusIdle
		}
	}
	t.publishStatusLocked()
	return t.statusViewLocked(), nil
}

// ToggleTrip starts or ends a trip on explicit user action. Starting a
// trip closes any open shop session first; ending one re-evaluates the
// geofence to decide between IN_SHOP and IDLE.
func (t *Tracker) ToggleTrip(ctx context.Context) (StatusView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cold {
		if _, err := t.reconcileLocked(ctx); err != nil {
			log.Printf("cold reconcile for %s: %v", t.workerID, err)
		}
	}

	now := t.now()
	if t.status == StatusOnTrip {
		if err := t.closeActiveLocked(ctx, now, false); err != nil {
			// A ledger-issued trip cannot be closed while the ledger is
			// down; it stays open until the next reconcile succeeds.
			if !t.deferOnUnavailableLocked(err, "offline, trip end deferred") {
				return t.statusViewLocked(), err
			}
			t.publishStatusLocked()
			return t.statusViewLocked(), nil
		}
		t.status = StatusIdle
		t.reason = ""

		st, err := t.settings.Get(ctx, t.workerID)
		if err == nil && st.ShopCenter != nil && t.online &&
			st.Window().Contains(now) && geo.WithinRadius(st.ShopCenter, t.lastPos, st.RadiusM) {
			if err := t.openLocked(ctx, ledger.KindShop, t.lastPos, now); err != nil {
				t.deferOnUnavailableLocked(err, "offline, shop session deferred")
			}
		}
	} else {
		if err := t.closeActiveLocked(ctx, now, false); err != nil {
			if !t.deferOnUnavailableLocked(err, "offline, close deferred") {
				return t.statusViewLocked(), err
			}
		}
		if err := t.openLocked(ctx, ledger.KindTrip, t.lastPos, now); err != nil {
			return t.statusViewLocked(), err
		}
	}

	t.publishStatusLocked()
	return t.statusViewLocked(), nil
}

// EndDay force-closes whatever session is open, on explicit user action.
func (t *Tracker) EndDay(ctx context.Context) (StatusView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cold {
		if _, err := t.reconcileLocked(ctx); err != nil {
			log.Printf("cold reconcile for %s: %v", t.workerID, err)
		}
	}

	if err := t.closeActiveLocked(ctx, t.now(), false); err != nil {
		if !t.deferOnUnavailableLocked(err, "offline, close deferred") {
			return t.statusViewLocked(), err
		}
	} else {
		t.status = StatusIdle
		t.reason = "day ended"
	}
	t.publishStatusLocked()
	return t.statusViewLocked(), nil
}

// SetOnline records the connectivity signal. Callers should follow a
// transition to online with a Reconcile so buffered trips migrate.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = online
	if !online {
		t.reason = "offline"
	}
}

// Status returns the current view, reconciling first on a cold start so
// a restarted process never reports state it has not recovered.
func (t *Tracker) Status(ctx context.Context) StatusView {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cold {
		if _, err := t.reconcileLocked(ctx); err != nil {
			log.Printf("cold reconcile for %s: %v", t.workerID, err)
		}
	}
	return t.statusViewLocked()
}

func (t *Tracker) statusViewLocked() StatusView {
	view := StatusView{
		WorkerID: t.workerID,
		Status:   t.status,
		Reason:   t.reason,
		Online:   t.online,
	}
	if t.active != nil {
		view.SessionID = t.active.SessionID
		start := t.active.StartedAt
		view.SessionStart = &start
		view.PendingSync = ledger.IsOfflineID(t.active.SessionID)
	}
	return view
}

// deferOnUnavailableLocked absorbs a store-unreachable failure by
// flipping to offline mode and leaving state for the next reconcile.
func (t *Tracker) deferOnUnavailableLocked(err error, reason string) bool {
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		return false
	}
	t.online = false
	t.reason = reason
	return true
}

// closeActiveLocked ends the session the pointer names, if any. A
// buffered trip is closed locally from the sample clock; a ledger
// session gets a ledger-assigned end, or the explicit one when clamp is
// set. The summary delta is applied exactly once per close because both
// close paths are idempotent.
func (t *Tracker) closeActiveLocked(ctx context.Context, end time.Time, clamp bool) error {
	active := t.active
	if active == nil {
		return nil
	}
	t.flushPathLocked(ctx)

	if ledger.IsOfflineID(active.SessionID) {
		sess, err := t.queue.Get(ctx, t.workerID, active.SessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.Open() {
			e := end
			d := e.Sub(sess.StartedAt).Milliseconds()
			if d < 0 {
				d = 0
			}
			sess.EndedAt = &e
			sess.DurationMs = &d
			if err := t.queue.Put(ctx, *sess); err != nil {
				return err
			}
			if err := t.summary.ApplyDelta(ctx, t.workerID, active.Date, ledger.KindTrip, d); err != nil {
				log.Printf("summary delta for %s: %v", t.workerID, err)
			}
		}
	} else {
		var durationMs int64
		var err error
		if clamp {
			durationMs, err = t.ledger.CloseAt(ctx, active.SessionID, end)
		} else {
			durationMs, err = t.ledger.Close(ctx, active.SessionID)
		}
		if err != nil {
			return err
		}
		if err := t.summary.ApplyDelta(ctx, t.workerID, active.Date, active.Kind, durationMs); err != nil {
			log.Printf("summary delta for %s: %v", t.workerID, err)
		}
	}

	return t.setPointerLocked(ctx, nil)
}

func (t *Tracker) openLocked(ctx context.Context, kind ledger.Kind, pos *geo.Point, at time.Time) error {
	date := workhours.DateString(at)
	if kind == ledger.KindTrip && !t.online {
		return t.openOfflineTripLocked(ctx, pos, at, date)
	}

	sess, err := t.ledger.Open(ctx, t.workerID, kind, date, pos)
	if err != nil {
		if kind == ledger.KindTrip && errors.Is(err, ledger.ErrStoreUnavailable) {
			t.online = false
			return t.openOfflineTripLocked(ctx, pos, at, date)
		}
		return err
	}

	active := offline.ActiveSession{SessionID: sess.ID, Kind: kind, Date: date, StartedAt: sess.StartedAt}
	if err := t.setPointerLocked(ctx, &active); err != nil {
		return err
	}
	t.statusFromKindLocked(kind)
	t.reason = ""
	return nil
}

func (t *Tracker) openOfflineTripLocked(ctx context.Context, pos *geo.Point, at time.Time, date string) error {
	sess := ledger.Session{
		ID:        offline.NewID(at),
		WorkerID:  t.workerID,
		Kind:      ledger.KindTrip,
		Date:      date,
		StartedAt: at,
		Pending:   true,
	}
	if pos != nil {
		sess.Path = []geo.Point{*pos}
	}
	if err := t.queue.Put(ctx, sess); err != nil {
		return err
	}
	active := offline.ActiveSession{SessionID: sess.ID, Kind: ledger.KindTrip, Date: date, StartedAt: at}
	if err := t.setPointerLocked(ctx, &active); err != nil {
		return err
	}
	t.status = StatusOnTrip
	t.reason = "pending sync"
	return nil
}

func (t *Tracker) setPointerLocked(ctx context.Context, active *offline.ActiveSession) error {
	if active == nil {
		if err := t.pointer.Clear(ctx, t.workerID); err != nil {
			return err
		}
	} else {
		if err := t.pointer.Set(ctx, t.workerID, *active); err != nil {
			return err
		}
	}
	t.active = active
	return nil
}

func (t *Tracker) statusFromKindLocked(kind ledger.Kind) {
	if kind == ledger.KindTrip {
		t.status = StatusOnTrip
	} else {
		t.status = StatusInShop
	}
}

// bufferPathPointLocked records a trip path point locally and flushes
// the batch on the configured interval to bound writes to the stores.
func (t *Tracker) bufferPathPointLocked(ctx context.Context, pos geo.Point, at time.Time) {
	t.pathBuf = append(t.pathBuf, pos)
	if t.lastFlush.IsZero() {
		t.lastFlush = at
		return
	}
	if at.Sub(t.lastFlush) >= t.cfg.PathFlushInterval {
		t.flushPathLocked(ctx)
	}
}

func (t *Tracker) flushPathLocked(ctx context.Context) {
	if len(t.pathBuf) == 0 || t.active == nil {
		t.pathBuf = nil
		return
	}
	points := t.pathBuf
	t.pathBuf = nil
	t.lastFlush = t.now()

	if ledger.IsOfflineID(t.active.SessionID) {
		if err := t.queue.AppendPathPoints(ctx, t.workerID, t.active.SessionID, points); err != nil {
			log.Printf("append offline path for %s: %v", t.workerID, err)
		}
	} else {
		t.ledger.AppendPathPoints(ctx, t.active.SessionID, points)
	}
}

func (t *Tracker) publishStatusLocked() {
	if t.hub == nil {
		return
	}
	payload, err := json.Marshal(t.statusViewLocked())
	if err != nil {
		return
	}
	t.hub.Broadcast(t.workerID, payload)
}
