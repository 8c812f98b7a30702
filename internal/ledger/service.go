package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backend-shoptrack/internal/db"
	"backend-shoptrack/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable marks failures where the ledger could not be
// reached at all, as opposed to a definite answer from it. Callers fall
// back to the offline queue for trips and defer shop transitions.
var ErrStoreUnavailable = errors.New("session ledger unavailable")

type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

// Open creates an open session with a ledger-issued id and a
// ledger-assigned start time, so client clock skew never leaks into
// duration accounting. For trips the starting position seeds the path.
func (s *Service) Open(ctx context.Context, workerID string, kind Kind, date string, start *geo.Point) (Session, error) {
	sess := Session{ID: uuid.NewString(), WorkerID: workerID, Kind: kind, Date: date}

	var pathJSON []byte
	if kind == KindTrip && start != nil {
		sess.Path = []geo.Point{*start}
		pathJSON, _ = json.Marshal(sess.Path)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO work_sessions (id, worker_id, kind, date, path)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING started_at
	`, sess.ID, workerID, string(kind), date, pathJSON)
	if err := row.Scan(&sess.StartedAt); err != nil {
		return Session{}, classify(err)
	}
	return sess, nil
}

// Close stamps a ledger-assigned end time and computes the duration.
// Closing an already-closed session is a no-op that returns the stored
// duration, so racing callers cannot double-close.
func (s *Service) Close(ctx context.Context, sessionID string) (int64, error) {
	return s.close(ctx, sessionID, nil)
}

// CloseAt closes with an explicit end time, used when the end must be
// clamped to a work-window boundary instead of stamped "now".
func (s *Service) CloseAt(ctx context.Context, sessionID string, end time.Time) (int64, error) {
	return s.close(ctx, sessionID, &end)
}

func (s *Service) close(ctx context.Context, sessionID string, end *time.Time) (int64, error) {
	var durationMs int64
	err := s.db.QueryRow(ctx, `
		UPDATE work_sessions
		SET ended_at = COALESCE($2::timestamptz, NOW()),
		    duration_ms = (EXTRACT(EPOCH FROM (COALESCE($2::timestamptz, NOW()) - started_at)) * 1000)::bigint
		WHERE id=$1 AND ended_at IS NULL
		RETURNING duration_ms
	`, sessionID, end).Scan(&durationMs)
	if err == nil {
		return durationMs, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, classify(err)
	}

	// Already closed: return what was computed the first time.
	err = s.db.QueryRow(ctx, `
		SELECT COALESCE(duration_ms, 0) FROM work_sessions WHERE id=$1
	`, sessionID).Scan(&durationMs)
	if err != nil {
		return 0, classify(err)
	}
	return durationMs, nil
}

// FindOpen returns the worker's single open session, or nil. The lookup
// is not restricted to today so a stale session from a previous day is
// still found and can be force-closed by reconciliation.
func (s *Service) FindOpen(ctx context.Context, workerID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, worker_id, kind, date, started_at, COALESCE(path, '[]'::jsonb), COALESCE(client_ref, '')
		FROM work_sessions
		WHERE worker_id=$1 AND ended_at IS NULL
		LIMIT 1
	`, workerID)

	var sess Session
	var kind string
	var pathJSON []byte
	if err := row.Scan(&sess.ID, &sess.WorkerID, &kind, &sess.Date, &sess.StartedAt, &pathJSON, &sess.ClientRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	sess.Kind = Kind(kind)
	_ = json.Unmarshal(pathJSON, &sess.Path)
	return &sess, nil
}

// AppendPathPoints is best effort. Path data is supplementary and never
// on the critical path of duration accounting, so failures are logged
// and swallowed.
func (s *Service) AppendPathPoints(ctx context.Context, sessionID string, points []geo.Point) {
	if len(points) == 0 {
		return
	}
	payload, _ := json.Marshal(points)
	_, err := s.db.Exec(ctx, `
		UPDATE work_sessions
		SET path = COALESCE(path, '[]'::jsonb) || $2::jsonb
		WHERE id=$1
	`, sessionID, payload)
	if err != nil {
		log.Printf("append path points to %s: %v", sessionID, err)
	}
}

// Import migrates an offline-created session into the ledger exactly
// once. The synthesized offline id rides along as client_ref; re-running
// after a partial failure finds the existing twin instead of inserting a
// duplicate. Start, end, duration and path are preserved verbatim.
func (s *Service) Import(ctx context.Context, sess Session) (Session, error) {
	if sess.ClientRef == "" {
		sess.ClientRef = sess.ID
	}
	pathJSON, _ := json.Marshal(sess.Path)

	_, err := s.db.Exec(ctx, `
		INSERT INTO work_sessions (id, worker_id, kind, date, started_at, ended_at, duration_ms, path, client_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (worker_id, client_ref) WHERE client_ref IS NOT NULL DO NOTHING
	`, uuid.NewString(), sess.WorkerID, string(sess.Kind), sess.Date,
		sess.StartedAt, sess.EndedAt, sess.DurationMs, pathJSON, sess.ClientRef)
	if err != nil {
		return Session{}, classify(err)
	}

	// Either our insert or a pre-existing twin from an earlier attempt.
	migrated := sess
	migrated.Pending = false
	err = s.db.QueryRow(ctx, `
		SELECT id FROM work_sessions WHERE worker_id=$1 AND client_ref=$2
	`, sess.WorkerID, sess.ClientRef).Scan(&migrated.ID)
	if err != nil {
		return Session{}, classify(err)
	}
	return migrated, nil
}

// SessionsForDate lists the day's sessions of both kinds, oldest first.
func (s *Service) SessionsForDate(ctx context.Context, workerID, date string) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, worker_id, kind, date, started_at, ended_at, duration_ms, COALESCE(path, '[]'::jsonb), COALESCE(client_ref, '')
		FROM work_sessions
		WHERE worker_id=$1 AND date=$2
		ORDER BY started_at
	`, workerID, date)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var kind string
		var pathJSON []byte
		if err := rows.Scan(&sess.ID, &sess.WorkerID, &kind, &sess.Date, &sess.StartedAt,
			&sess.EndedAt, &sess.DurationMs, &pathJSON, &sess.ClientRef); err != nil {
			return nil, classify(err)
		}
		sess.Kind = Kind(kind)
		_ = json.Unmarshal(pathJSON, &sess.Path)
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// SumClosed returns the day's closed-session duration totals per kind.
func (s *Service) SumClosed(ctx context.Context, workerID, date string) (shopMs, tripMs int64, err error) {
	rows, err := s.db.Query(ctx, `
		SELECT kind, COALESCE(SUM(duration_ms), 0)
		FROM work_sessions
		WHERE worker_id=$1 AND date=$2 AND ended_at IS NOT NULL
		GROUP BY kind
	`, workerID, date)
	if err != nil {
		return 0, 0, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var total int64
		if err := rows.Scan(&kind, &total); err != nil {
			return 0, 0, classify(err)
		}
		switch Kind(kind) {
		case KindShop:
			shopMs = total
		case KindTrip:
			tripMs = total
		}
	}
	return shopMs, tripMs, nil
}

// classify separates "the store answered with an error" from "the store
// could not be reached". Definite SQL errors pass through; everything
// else (dial failures, timeouts) becomes ErrStoreUnavailable so callers
// can take the offline path.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
