package offline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-shoptrack/internal/ledger"

	"github.com/redis/go-redis/v9"
)

// ActiveSession is the durable cache of which session, if any, is open.
// It is a cache, never a second source of truth: whenever the ledger is
// reachable and disagrees, the ledger wins.
type ActiveSession struct {
	SessionID string      `json:"session_id"`
	Kind      ledger.Kind `json:"kind"`
	Date      string      `json:"date"`
	StartedAt time.Time   `json:"started_at"`
}

// Pointer persists the active-session cache in the same durable store
// the background-sync context reads, so both contexts agree after a
// restart or a kill mid-session.
type Pointer struct {
	redis *redis.Client
}

func NewPointer(r *redis.Client) *Pointer {
	return &Pointer{redis: r}
}

func pointerKey(workerID string) string {
	return "active:session:" + workerID
}

func (p *Pointer) Get(ctx context.Context, workerID string) (*ActiveSession, error) {
	raw, err := p.redis.Get(ctx, pointerKey(workerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var active ActiveSession
	if err := json.Unmarshal([]byte(raw), &active); err != nil {
		return nil, err
	}
	return &active, nil
}

func (p *Pointer) Set(ctx context.Context, workerID string, active ActiveSession) error {
	payload, err := json.Marshal(active)
	if err != nil {
		return err
	}
	return p.redis.Set(ctx, pointerKey(workerID), payload, 0).Err()
}

func (p *Pointer) Clear(ctx context.Context, workerID string) error {
	return p.redis.Del(ctx, pointerKey(workerID)).Err()
}
