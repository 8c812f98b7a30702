package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"
	"backend-shoptrack/internal/shared/geo"
)

// Reconcile resolves which session, if any, is active right now by
// arbitrating between the durable pointer cache and the ledger's own
// open-session query. It runs on process start, on foreground and
// connectivity transitions, and on background-sync ticks. Passes are
// single-flight: a pass already in progress absorbs the trigger.
func (t *Tracker) Reconcile(ctx context.Context) (StatusView, error) {
	if !t.recMu.TryLock() {
		return t.Status(ctx), nil
	}
	defer t.recMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	view, err := t.reconcileLocked(ctx)
	t.publishStatusLocked()
	return view, err
}

func (t *Tracker) reconcileLocked(ctx context.Context) (StatusView, error) {
	t.cold = false
	now := t.now()

	// Remote reads are bounded; on timeout the pass degrades to
	// local-only evaluation instead of blocking the caller.
	rctx, cancel := context.WithTimeout(ctx, t.cfg.ReconcileTimeout)
	defer cancel()

	ptr, err := t.pointer.Get(rctx, t.workerID)
	if err != nil {
		return t.statusViewLocked(), err
	}
	t.active = ptr

	var open *ledger.Session
	ledgerOK := t.online
	if t.online {
		open, err = t.ledger.FindOpen(rctx, t.workerID)
		if err != nil {
			if errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
				// Unreachable: trust local state, retry on the next trigger.
				ledgerOK = false
			} else {
				return t.statusViewLocked(), err
			}
		}
	}

	switch {
	case ptr != nil && ledger.IsOfflineID(ptr.SessionID):
		// A buffered trip: the pointer plus the queue are the only truth
		// until migration moves it into the ledger.
		t.status = StatusOnTrip
		t.reason = "pending sync"
	case ledgerOK && open == nil && ptr != nil:
		// The ledger-side close happened from another trigger; the
		// ledger wins and the stale pointer is dropped.
		if err := t.setPointerLocked(rctx, nil); err != nil {
			return t.statusViewLocked(), err
		}
		t.status = StatusIdle
		t.reason = ""
	case ledgerOK && open != nil:
		adopt := offline.ActiveSession{SessionID: open.ID, Kind: open.Kind, Date: open.Date, StartedAt: open.StartedAt}
		if ptr == nil || ptr.SessionID != open.ID {
			if err := t.setPointerLocked(rctx, &adopt); err != nil {
				return t.statusViewLocked(), err
			}
		}
		t.statusFromKindLocked(open.Kind)
		t.reason = ""
	case ledgerOK:
		// Neither side knows an open session: evaluate the transition
		// table as if starting from IDLE.
		t.evaluateIdleLocked(rctx, now)
	default:
		if ptr != nil {
			t.statusFromKindLocked(ptr.Kind)
		} else {
			t.status = StatusIdle
		}
		t.reason = "offline"
	}

	t.forceCloseStaleLocked(rctx, now, ledgerOK)

	if ledgerOK {
		if err := t.migrateLocked(rctx); err != nil {
			log.Printf("offline migration for %s: %v", t.workerID, err)
		}
	}

	return t.statusViewLocked(), nil
}

// forceCloseStaleLocked is the day-end auto-close: a session still open
// once the instant has crossed outside its day's work window is closed
// at the window-end boundary, never at "now". A session found the next
// morning therefore ends at yesterday's window end.
func (t *Tracker) forceCloseStaleLocked(ctx context.Context, now time.Time, ledgerOK bool) {
	if t.active == nil {
		return
	}
	if !ledgerOK && !ledger.IsOfflineID(t.active.SessionID) {
		return
	}

	st, err := t.settings.Get(ctx, t.workerID)
	if err != nil {
		return
	}
	boundary := st.Window().EndOn(t.active.StartedAt)
	if !now.After(boundary) {
		return
	}
	end := boundary
	if end.Before(t.active.StartedAt) {
		end = t.active.StartedAt
	}
	if err := t.closeActiveLocked(ctx, end, true); err != nil {
		log.Printf("day-end close for %s: %v", t.workerID, err)
		return
	}
	t.status = StatusIdle
	t.reason = "work window ended"
}

// evaluateIdleLocked applies the IDLE row of the transition table using
// the last position sample, when it is fresh enough to trust.
func (t *Tracker) evaluateIdleLocked(ctx context.Context, now time.Time) {
	t.status = StatusIdle
	t.reason = ""

	if t.lastPos == nil || now.Sub(t.lastFix) > t.cfg.LocationGrace {
		t.reason = "waiting for position"
		return
	}
	st, err := t.settings.Get(ctx, t.workerID)
	if err != nil || st.ShopCenter == nil {
		t.reason = "shop location not set"
		return
	}
	if st.Window().Contains(now) && geo.WithinRadius(st.ShopCenter, t.lastPos, st.RadiusM) {
		if err := t.openLocked(ctx, ledger.KindShop, t.lastPos, now); err != nil {
			t.deferOnUnavailableLocked(err, "offline, shop session deferred")
		}
	}
}

// migrateLocked moves every buffered trip into the ledger. Migration is
// retryable and idempotent: an Import re-attempt detects the existing
// twin, and the local copy is removed only after the twin is confirmed.
func (t *Tracker) migrateLocked(ctx context.Context) error {
	pending, err := t.queue.ListAll(ctx, t.workerID)
	if err != nil || len(pending) == 0 {
		return err
	}

	dates := map[string]struct{}{}
	for _, sess := range pending {
		migrated, err := t.ledger.Import(ctx, sess)
		if err != nil {
			return err
		}
		if err := t.queue.Remove(ctx, t.workerID, sess.ID); err != nil {
			return err
		}
		// A still-open trip carries its pointer across the migration.
		if t.active != nil && t.active.SessionID == sess.ID {
			adopt := *t.active
			adopt.SessionID = migrated.ID
			adopt.StartedAt = migrated.StartedAt
			if err := t.setPointerLocked(ctx, &adopt); err != nil {
				return err
			}
			t.reason = ""
		}
		dates[sess.Date] = struct{}{}
	}

	// One recompute per touched day instead of per-record deltas, so a
	// batch migration cannot double count.
	for date := range dates {
		if err := t.summary.Refresh(ctx, t.workerID, date); err != nil {
			log.Printf("summary refresh for %s %s: %v", t.workerID, date, err)
		}
	}
	return nil
}
