package settings

import (
	"backend-shoptrack/internal/shared/geo"
	"backend-shoptrack/internal/shared/workhours"
)

// Settings is the per-worker tracking configuration. ShopCenter nil
// means no geofence has been picked yet and tracking stays disabled.
type Settings struct {
	WorkerID      string     `json:"worker_id"`
	ShopCenter    *geo.Point `json:"shop_center,omitempty"`
	RadiusM       float64    `json:"radius_m"`
	WorkStartHour int        `json:"work_start_hour"`
	WorkEndHour   int        `json:"work_end_hour"`
	HourlyRate    float64    `json:"hourly_rate"`
}

func (s Settings) Window() workhours.Window {
	return workhours.Window{StartHour: s.WorkStartHour, EndHour: s.WorkEndHour}
}
