package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// RateLimitStore persists per-scene cooldown records in SQLite.
type RateLimitStore struct {
	db *sql.DB
}

// Timestamps are stored as unix milliseconds; zero means "never".
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *RateLimitStore) GetRateLimit(ctx context.Context, sceneKey string) (*store.RateLimitRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scene_key, last_sent, cooldown_until, recent_count, updated_at
		FROM rate_limits WHERE scene_key = ?`, sceneKey)
	return scanRateLimit(row)
}

func scanRateLimit(row *sql.Row) (*store.RateLimitRecord, error) {
	var rec store.RateLimitRecord
	var lastSent, cooldownUntil, updatedAt int64
	err := row.Scan(&rec.SceneKey, &lastSent, &cooldownUntil, &rec.RecentCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rate limit: %w", err)
	}
	rec.LastSent = fromMillis(lastSent)
	rec.CooldownUntil = fromMillis(cooldownUntil)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// UpdateRateLimit runs the read-modify-write inside one transaction so
// concurrent updates to the same scene serialize instead of losing writes.
func (s *RateLimitStore) UpdateRateLimit(ctx context.Context, sceneKey string, fn func(rec *store.RateLimitRecord)) (*store.RateLimitRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rate limit update: %w", err)
	}
	defer tx.Rollback()

	rec := &store.RateLimitRecord{SceneKey: sceneKey}
	row := tx.QueryRowContext(ctx, `
		SELECT scene_key, last_sent, cooldown_until, recent_count, updated_at
		FROM rate_limits WHERE scene_key = ?`, sceneKey)
	var lastSent, cooldownUntil, updatedAt int64
	err = row.Scan(&rec.SceneKey, &lastSent, &cooldownUntil, &rec.RecentCount, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh record, zero values stand
	case err != nil:
		return nil, fmt.Errorf("read rate limit: %w", err)
	default:
		rec.LastSent = fromMillis(lastSent)
		rec.CooldownUntil = fromMillis(cooldownUntil)
	}

	before := rec.UpdatedAt
	fn(rec)
	if rec.UpdatedAt.Equal(before) {
		rec.UpdatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limits (scene_key, last_sent, cooldown_until, recent_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scene_key) DO UPDATE SET
			last_sent      = excluded.last_sent,
			cooldown_until = excluded.cooldown_until,
			recent_count   = excluded.recent_count,
			updated_at     = excluded.updated_at`,
		rec.SceneKey, toMillis(rec.LastSent), toMillis(rec.CooldownUntil), rec.RecentCount, toMillis(rec.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("write rate limit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rate limit update: %w", err)
	}
	cp := *rec
	return &cp, nil
}

func (s *RateLimitStore) DeleteRateLimitsIdleBefore(ctx context.Context, horizon time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE updated_at < ?`, toMillis(horizon))
	if err != nil {
		return 0, fmt.Errorf("delete idle rate limits: %w", err)
	}
	return res.RowsAffected()
}
