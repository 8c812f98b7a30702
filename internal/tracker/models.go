package tracker

import (
	"context"
	"time"

	"backend-shoptrack/internal/config"
	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"
	"backend-shoptrack/internal/settings"
	"backend-shoptrack/internal/shared/geo"
)

type Status string

const (
	StatusIdle   Status = "IDLE"
	StatusInShop Status = "IN_SHOP"
	StatusOnTrip Status = "ON_TRIP"
)

// StatusView is the read model handed to UI code: the current status
// plus enough context to render "paused" and "pending sync" indicators.
type StatusView struct {
	WorkerID     string     `json:"worker_id"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	Online       bool       `json:"online"`
	PendingSync  bool       `json:"pending_sync"`
	SessionID    string     `json:"session_id,omitempty"`
	SessionStart *time.Time `json:"session_start,omitempty"`
}

// Ledger is the authoritative, possibly-unreachable session store.
type Ledger interface {
	Open(ctx context.Context, workerID string, kind ledger.Kind, date string, start *geo.Point) (ledger.Session, error)
	Close(ctx context.Context, sessionID string) (int64, error)
	CloseAt(ctx context.Context, sessionID string, end time.Time) (int64, error)
	FindOpen(ctx context.Context, workerID string) (*ledger.Session, error)
	AppendPathPoints(ctx context.Context, sessionID string, points []geo.Point)
	Import(ctx context.Context, sess ledger.Session) (ledger.Session, error)
}

// OfflineStore buffers trip sessions created while the ledger is down.
type OfflineStore interface {
	Put(ctx context.Context, sess ledger.Session) error
	Get(ctx context.Context, workerID, id string) (*ledger.Session, error)
	ListAll(ctx context.Context, workerID string) ([]ledger.Session, error)
	Remove(ctx context.Context, workerID, id string) error
	AppendPathPoints(ctx context.Context, workerID, id string, points []geo.Point) error
}

// PointerStore is the durable active-session cache.
type PointerStore interface {
	Get(ctx context.Context, workerID string) (*offline.ActiveSession, error)
	Set(ctx context.Context, workerID string, active offline.ActiveSession) error
	Clear(ctx context.Context, workerID string) error
}

type SummaryStore interface {
	ApplyDelta(ctx context.Context, workerID, date string, kind ledger.Kind, durationMs int64) error
	Refresh(ctx context.Context, workerID, date string) error
}

type SettingsSource interface {
	Get(ctx context.Context, workerID string) (settings.Settings, error)
}

// Broadcaster pushes status and path updates to live subscribers.
type Broadcaster interface {
	Broadcast(workerID string, payload []byte)
}

type Deps struct {
	Ledger   Ledger
	Queue    OfflineStore
	Pointer  PointerStore
	Summary  SummaryStore
	Settings SettingsSource
	Hub      Broadcaster
}

type Config struct {
	PathFlushInterval time.Duration
	ReconcileTimeout  time.Duration
	LocationGrace     time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		PathFlushInterval: time.Duration(cfg.PathFlushSeconds) * time.Second,
		ReconcileTimeout:  time.Duration(cfg.ReconcileTimeoutSeconds) * time.Second,
		LocationGrace:     time.Duration(cfg.LocationGraceSeconds) * time.Second,
	}
}
