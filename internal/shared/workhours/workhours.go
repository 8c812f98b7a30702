package workhours

import "time"

// Window is a daily working-hours band in local wall-clock hours,
// half-open: [StartHour, EndHour).
type Window struct {
	StartHour int
	EndHour   int
}

func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= w.StartHour && h < w.EndHour
}

// StartOn returns the instant the window opens on the given day.
func (w Window) StartOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.StartHour, 0, 0, 0, day.Location())
}

// EndOn returns the instant the window closes on the given day.
func (w Window) EndOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.EndHour, 0, 0, 0, day.Location())
}

// DateString renders the calendar day a session is partitioned under.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}
