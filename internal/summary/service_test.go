package summary

import (
	"context"
	"testing"
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	return NewService(client, ledger.NewService(mock), offline.NewQueue(client)), mock
}

func TestApplyDeltaAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.ApplyDelta(ctx, "worker-1", "2025-03-10", ledger.KindShop, 3_600_000); err != nil {
		t.Fatalf("delta: %v", err)
	}
	if err := svc.ApplyDelta(ctx, "worker-1", "2025-03-10", ledger.KindTrip, 1_800_000); err != nil {
		t.Fatalf("delta: %v", err)
	}

	d, err := svc.Get(ctx, "worker-1", "2025-03-10", 200)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.ShopTimeMs != 3_600_000 || d.TripTimeMs != 1_800_000 || d.TotalTimeMs != 5_400_000 {
		t.Fatalf("unexpected summary: %+v", d)
	}
	if d.Earnings != 300 { // 1.5h * 200
		t.Fatalf("unexpected earnings: %v", d.Earnings)
	}
}

func TestGetDerivesWhenNoCache(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(duration_ms\), 0\)`).
		WithArgs("worker-1", "2025-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"kind", "sum"}).AddRow("shop", int64(3_600_000)))

	d, err := svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.ShopTimeMs != 3_600_000 || d.TotalTimeMs != 3_600_000 {
		t.Fatalf("unexpected derived summary: %+v", d)
	}

	// Second read comes from the cache, no ledger query expected.
	d2, err := svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil || d2.ShopTimeMs != d.ShopTimeMs {
		t.Fatalf("cached read mismatch: %+v (%v)", d2, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshIncludesPendingOfflineTrips(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	durationMs := int64(1_200_000)
	end := time.Now()
	start := end.Add(-20 * time.Minute)
	pendingTrip := ledger.Session{
		ID:         offline.NewID(start),
		WorkerID:   "worker-1",
		Kind:       ledger.KindTrip,
		Date:       "2025-03-10",
		StartedAt:  start,
		EndedAt:    &end,
		DurationMs: &durationMs,
		Pending:    true,
	}
	if err := svc.queue.Put(ctx, pendingTrip); err != nil {
		t.Fatalf("put: %v", err)
	}

	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(duration_ms\), 0\)`).
		WithArgs("worker-1", "2025-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"kind", "sum"}).AddRow("trip", int64(600_000)))

	if err := svc.Refresh(ctx, "worker-1", "2025-03-10"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	d, err := svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.TripTimeMs != 1_800_000 {
		t.Fatalf("expected ledger + pending trip time, got %d", d.TripTimeMs)
	}
}

func TestLedgerOutageServesLocalOnlyWithoutCaching(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	durationMs := int64(900_000)
	end := time.Now()
	start := end.Add(-15 * time.Minute)
	_ = svc.queue.Put(ctx, ledger.Session{
		ID: offline.NewID(start), WorkerID: "worker-1", Kind: ledger.KindTrip,
		Date: "2025-03-10", StartedAt: start, EndedAt: &end, DurationMs: &durationMs,
	})

	// During the outage a cold-cache read degrades to the local buffer.
	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(duration_ms\), 0\)`).
		WithArgs("worker-1", "2025-03-10").
		WillReturnError(context.DeadlineExceeded)

	d, err := svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil || d.TripTimeMs != 900_000 || d.ShopTimeMs != 0 {
		t.Fatalf("unexpected outage summary: %+v (%v)", d, err)
	}

	// The degraded view must not stick: once the ledger answers again,
	// the next read derives from it, not from a cached zero.
	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(duration_ms\), 0\)`).
		WithArgs("worker-1", "2025-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"kind", "sum"}).AddRow("shop", int64(7_200_000)))

	d, err = svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil {
		t.Fatalf("get after outage: %v", err)
	}
	if d.ShopTimeMs != 7_200_000 || d.TripTimeMs != 900_000 {
		t.Fatalf("expected ledger totals after reconnection, got %+v", d)
	}

	// And that read is cached: no further ledger queries.
	d, err = svc.Get(ctx, "worker-1", "2025-03-10", 0)
	if err != nil || d.ShopTimeMs != 7_200_000 {
		t.Fatalf("cached read mismatch: %+v (%v)", d, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
