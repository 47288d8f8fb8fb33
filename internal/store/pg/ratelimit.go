package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencebot/cadence/internal/store"
)

// RateLimitStore implements store.RateLimitStore backed by Postgres.
type RateLimitStore struct {
	db *sql.DB
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timeOf(n sql.NullTime) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return n.Time
}

func (s *RateLimitStore) GetRateLimit(ctx context.Context, sceneKey string) (*store.RateLimitRecord, error) {
	var rec store.RateLimitRecord
	var lastSent, cooldownUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT scene_key, last_sent, cooldown_until, recent_count, updated_at
		FROM rate_limits WHERE scene_key = $1`, sceneKey).
		Scan(&rec.SceneKey, &lastSent, &cooldownUntil, &rec.RecentCount, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	rec.LastSent = timeOf(lastSent)
	rec.CooldownUntil = timeOf(cooldownUntil)
	return &rec, nil
}

// UpdateRateLimit locks the row (FOR UPDATE) for the read-modify-write so
// concurrent updates to one scene serialize.
func (s *RateLimitStore) UpdateRateLimit(ctx context.Context, sceneKey string, fn func(rec *store.RateLimitRecord)) (*store.RateLimitRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rate limit update: %w", err)
	}
	defer tx.Rollback()

	// Upsert-first guarantees the row exists so FOR UPDATE has something to
	// lock even on the scene's first emission.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limits (scene_key) VALUES ($1)
		ON CONFLICT (scene_key) DO NOTHING`, sceneKey)
	if err != nil {
		return nil, fmt.Errorf("ensure rate limit row: %w", err)
	}

	rec := &store.RateLimitRecord{SceneKey: sceneKey}
	var lastSent, cooldownUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT scene_key, last_sent, cooldown_until, recent_count, updated_at
		FROM rate_limits WHERE scene_key = $1 FOR UPDATE`, sceneKey).
		Scan(&rec.SceneKey, &lastSent, &cooldownUntil, &rec.RecentCount, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("read rate limit: %w", err)
	}
	rec.LastSent = timeOf(lastSent)
	rec.CooldownUntil = timeOf(cooldownUntil)

	before := rec.UpdatedAt
	fn(rec)
	if rec.UpdatedAt.Equal(before) {
		rec.UpdatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rate_limits
		SET last_sent = $2, cooldown_until = $3, recent_count = $4, updated_at = $5
		WHERE scene_key = $1`,
		rec.SceneKey, nullTime(rec.LastSent), nullTime(rec.CooldownUntil), rec.RecentCount, rec.UpdatedAt)
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
		`DELETE FROM rate_limits WHERE updated_at < $1`, horizon)
	if err != nil {
		return 0, fmt.Errorf("delete idle rate limits: %w", err)
	}
	return res.RowsAffected()
}
