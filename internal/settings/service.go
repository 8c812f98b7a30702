package settings

import (
	"context"
	"errors"

	"backend-shoptrack/internal/config"
	"backend-shoptrack/internal/db"
	"backend-shoptrack/internal/shared/geo"

	"github.com/jackc/pgx/v5"
)

type Service struct {
	db       db.Querier
	defaults Settings
}

// Defaults builds the fallback settings applied to workers who have not
// saved any yet.
func Defaults(cfg config.Config) Settings {
	return Settings{
		RadiusM:       cfg.GeofenceRadiusM,
		WorkStartHour: cfg.WorkStartHour,
		WorkEndHour:   cfg.WorkEndHour,
	}
}

func NewService(q db.Querier, defaults Settings) *Service {
	return &Service{db: q, defaults: defaults}
}

// Get returns the worker's saved settings, or the defaults when none
// have been saved.
func (s *Service) Get(ctx context.Context, workerID string) (Settings, error) {
	row := s.db.QueryRow(ctx, `
		SELECT shop_lat, shop_lng, radius_m, work_start_hour, work_end_hour, hourly_rate
		FROM worker_settings WHERE worker_id=$1
	`, workerID)

	out := s.defaults
	out.WorkerID = workerID

	var lat, lng *float64
	if err := row.Scan(&lat, &lng, &out.RadiusM, &out.WorkStartHour, &out.WorkEndHour, &out.HourlyRate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return Settings{}, err
	}
	if lat != nil && lng != nil {
		out.ShopCenter = &geo.Point{Lat: *lat, Lng: *lng}
	}
	return out, nil
}

// Save upserts the worker's settings. A zero radius falls back to the
// configured default.
func (s *Service) Save(ctx context.Context, in Settings) (Settings, error) {
	if in.RadiusM <= 0 {
		in.RadiusM = s.defaults.RadiusM
	}
	if in.WorkEndHour <= in.WorkStartHour {
		return Settings{}, errors.New("work window must end after it starts")
	}

	var lat, lng *float64
	if in.ShopCenter != nil {
		lat, lng = &in.ShopCenter.Lat, &in.ShopCenter.Lng
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO worker_settings (worker_id, shop_lat, shop_lng, radius_m, work_start_hour, work_end_hour, hourly_rate, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (worker_id) DO UPDATE SET
			shop_lat=EXCLUDED.shop_lat,
			shop_lng=EXCLUDED.shop_lng,
			radius_m=EXCLUDED.radius_m,
			work_start_hour=EXCLUDED.work_start_hour,
			work_end_hour=EXCLUDED.work_end_hour,
			hourly_rate=EXCLUDED.hourly_rate,
			updated_at=NOW()
	`, in.WorkerID, lat, lng, in.RadiusM, in.WorkStartHour, in.WorkEndHour, in.HourlyRate)
	if err != nil {
		return Settings{}, err
	}
	return in, nil
}

// HourlyRate is a convenience for the earnings projection.
func (s *Service) HourlyRate(ctx context.Context, workerID string) (float64, error) {
	st, err := s.Get(ctx, workerID)
	if err != nil {
		return 0, err
	}
	return st.HourlyRate, nil
}
