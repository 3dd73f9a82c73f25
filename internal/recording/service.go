package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-bravely/internal/db"
	"backend-bravely/internal/tracking"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("session not found")

// Service is the session-recording API: it stores finished sessions handed
// over by the engine and serves them back.
type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Record stores a finished session and its route in one transaction.
// Recording the same session id twice is a no-op, so End may be retried
// after a partial failure.
func (s *Service) Record(ctx context.Context, fs tracking.FinishedSession) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO exposure_sessions (id, session_type, started_at, ended_at, total_distance_m, fear_level_before, mood_before, was_interrupted, point_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, fs.ID, fs.SessionType, fs.StartedAt, fs.EndedAt, fs.TotalDistanceMeters, nullableRating(fs.FearLevelBefore), nullableRating(fs.MoodBefore), fs.WasInterrupted, len(fs.Route))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if tag.RowsAffected() == 1 && len(fs.Route) > 0 {
		rows := make([][]any, len(fs.Route))
		for i, p := range fs.Route {
			rows[i] = []any{fs.ID, i, p.Lat, p.Lng, p.AccuracyMeters, p.CapturedAt}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"route_points"},
			[]string{"session_id", "seq", "lat", "lng", "accuracy_m", "captured_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy route: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) Summary(ctx context.Context, sessionID string) (tracking.Summary, error) {
	var snap tracking.SessionSnapshot
	var pointCount int
	row := s.db.QueryRow(ctx, `
		SELECT id, started_at, ended_at, COALESCE(total_distance_m,0), point_count
		FROM exposure_sessions WHERE id=$1
	`, sessionID)
	if err := row.Scan(&snap.ID, &snap.StartedAt, &snap.EndedAt, &snap.TotalDistanceMeters, &pointCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracking.Summary{}, ErrNotFound
		}
		return tracking.Summary{}, err
	}

	summary := tracking.Summarize(snap, time.Now())
	summary.PointCount = pointCount
	return summary, nil
}

func (s *Service) Points(ctx context.Context, sessionID string) ([]tracking.RoutePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT lat, lng, COALESCE(accuracy_m,0), captured_at
		FROM route_points WHERE session_id=$1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []tracking.RoutePoint{}
	for rows.Next() {
		var p tracking.RoutePoint
		if err := rows.Scan(&p.Lat, &p.Lng, &p.AccuracyMeters, &p.CapturedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func nullableRating(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
