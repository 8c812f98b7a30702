package summary

import (
	"context"
	"errors"
	"strconv"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"

	"github.com/redis/go-redis/v9"
)

// Daily is the derived projection of one day's billable time. It is kept
// by deltas on the hot path; Refresh rebuilds it from source sessions.
type Daily struct {
	Date        string  `json:"date"`
	ShopTimeMs  int64   `json:"shop_time_ms"`
	TripTimeMs  int64   `json:"trip_time_ms"`
	TotalTimeMs int64   `json:"total_time_ms"`
	Earnings    float64 `json:"earnings"`
}

type Service struct {
	redis  *redis.Client
	ledger *ledger.Service
	queue  *offline.Queue
}

func NewService(r *redis.Client, l *ledger.Service, q *offline.Queue) *Service {
	return &Service{redis: r, ledger: l, queue: q}
}

func cacheKey(workerID, date string) string {
	return "summary:" + workerID + ":" + date
}

// ApplyDelta folds one closed session's duration into the projection.
// Both increments run in a single pipeline so a reader never observes a
// bucket without its matching total. Callers must invoke this exactly
// once per session close; the ledger's idempotent close guarantees that.
func (s *Service) ApplyDelta(ctx context.Context, workerID, date string, kind ledger.Kind, durationMs int64) error {
	field := "shop_ms"
	if kind == ledger.KindTrip {
		field = "trip_ms"
	}

	key := cacheKey(workerID, date)
	pipe := s.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, field, durationMs)
	pipe.HIncrBy(ctx, key, "total_ms", durationMs)
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads the cached projection, deriving it from source sessions when
// no cache exists yet.
func (s *Service) Get(ctx context.Context, workerID, date string, hourlyRate float64) (Daily, error) {
	vals, err := s.redis.HGetAll(ctx, cacheKey(workerID, date)).Result()
	if err == nil && len(vals) > 0 {
		d := Daily{
			Date:       date,
			ShopTimeMs: parseMs(vals["shop_ms"]),
			TripTimeMs: parseMs(vals["trip_ms"]),
		}
		d.TotalTimeMs = parseMs(vals["total_ms"])
		d.Earnings = earnings(d.TotalTimeMs, hourlyRate)
		return d, nil
	}
	return s.refresh(ctx, workerID, date, hourlyRate)
}

// Refresh rebuilds the projection from closed ledger sessions plus any
// still-buffered offline trips, replacing the cache. This is the drift
// fallback: after a batch of offline sessions migrates, one recompute
// replaces many deltas and cannot double count.
func (s *Service) Refresh(ctx context.Context, workerID, date string) error {
	_, err := s.refresh(ctx, workerID, date, 0)
	return err
}

func (s *Service) refresh(ctx context.Context, workerID, date string, hourlyRate float64) (Daily, error) {
	ledgerOK := true
	shopMs, tripMs, err := s.ledger.SumClosed(ctx, workerID, date)
	if err != nil {
		if !errors.Is(err, ledger.ErrStoreUnavailable) {
			return Daily{}, err
		}
		// Ledger unreachable: the local buffer is the only source.
		shopMs, tripMs = 0, 0
		ledgerOK = false
	}

	pending, qerr := s.queue.ListAll(ctx, workerID)
	if qerr != nil {
		return Daily{}, qerr
	}
	for _, trip := range pending {
		if trip.Date == date && trip.DurationMs != nil {
			tripMs += *trip.DurationMs
		}
	}

	d := Daily{Date: date, ShopTimeMs: shopMs, TripTimeMs: tripMs, TotalTimeMs: shopMs + tripMs}
	d.Earnings = earnings(d.TotalTimeMs, hourlyRate)

	// A local-only view is served but never cached: persisting it would
	// shadow the ledger totals long after the outage ends.
	if !ledgerOK {
		return d, nil
	}

	if err := s.redis.HSet(ctx, cacheKey(workerID, date),
		"shop_ms", d.ShopTimeMs, "trip_ms", d.TripTimeMs, "total_ms", d.TotalTimeMs).Err(); err != nil {
		return Daily{}, err
	}
	return d, nil
}

func parseMs(raw string) int64 {
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}

func earnings(totalMs int64, hourlyRate float64) float64 {
	return float64(totalMs) / 3_600_000 * hourlyRate
}
