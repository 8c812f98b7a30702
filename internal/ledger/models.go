package ledger

import (
	"strings"
	"time"

	"backend-shoptrack/internal/shared/geo"
)

type Kind string

const (
	KindShop Kind = "shop"
	KindTrip Kind = "trip"
)

// OfflineIDPrefix namespaces locally synthesized session ids. The prefix
// is load-bearing: it tells reconciliation the record still lives in the
// offline queue and needs migration before the ledger knows about it.
const OfflineIDPrefix = "offline_"

func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

// Session is a single shop or trip work session. EndedAt and DurationMs
// are set together exactly once, at close; a session missing both is open.
type Session struct {
	ID         string      `json:"id"`
	WorkerID   string      `json:"worker_id"`
	Kind       Kind        `json:"kind"`
	Date       string      `json:"date"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	DurationMs *int64      `json:"duration_ms,omitempty"`
	Path       []geo.Point `json:"path,omitempty"`
	ClientRef  string      `json:"client_ref,omitempty"`
	Pending    bool        `json:"pending,omitempty"`
}

func (s Session) Open() bool {
	return s.EndedAt == nil
}
