package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/shared/geo"

	"github.com/redis/go-redis/v9"
)

// NewID synthesizes a local session id. The offline_ namespace marks the
// record as not yet known to the ledger.
func NewID(t time.Time) string {
	return fmt.Sprintf("%s%d", ledger.OfflineIDPrefix, t.UnixMilli())
}

// Queue is the durable buffer for trip sessions created while the ledger
// is unreachable. Records stay retrievable across restarts until a
// successful migration removes them.
type Queue struct {
	redis *redis.Client
}

func NewQueue(r *redis.Client) *Queue {
	return &Queue{redis: r}
}

func queueKey(workerID string) string {
	return "offline:trips:" + workerID
}

func (q *Queue) Put(ctx context.Context, sess ledger.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return q.redis.HSet(ctx, queueKey(sess.WorkerID), sess.ID, payload).Err()
}

func (q *Queue) Get(ctx context.Context, workerID, id string) (*ledger.Session, error) {
	raw, err := q.redis.HGet(ctx, queueKey(workerID), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess ledger.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListAll returns every buffered session, oldest first. A record that
// cannot be decoded is surfaced as an error rather than dropped, so a
// migration failure is never silent.
func (q *Queue) ListAll(ctx context.Context, workerID string) ([]ledger.Session, error) {
	raw, err := q.redis.HGetAll(ctx, queueKey(workerID)).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]ledger.Session, 0, len(raw))
	for id, v := range raw {
		var sess ledger.Session
		if err := json.Unmarshal([]byte(v), &sess); err != nil {
			return nil, fmt.Errorf("corrupt offline record %s: %w", id, err)
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (q *Queue) Remove(ctx context.Context, workerID, id string) error {
	return q.redis.HDel(ctx, queueKey(workerID), id).Err()
}

func (q *Queue) Clear(ctx context.Context, workerID string) error {
	return q.redis.Del(ctx, queueKey(workerID)).Err()
}

// AppendPathPoints mirrors the ledger's append for a buffered trip.
func (q *Queue) AppendPathPoints(ctx context.Context, workerID, id string, points []geo.Point) error {
	sess, err := q.Get(ctx, workerID, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("offline session %s not found", id)
	}
	sess.Path = append(sess.Path, points...)
	return q.Put(ctx, *sess)
}
