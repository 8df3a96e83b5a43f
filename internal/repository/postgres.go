package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// PostgresEventLog stores the seen-event set in the processed_events table.
type PostgresEventLog struct {
	db  *pgxpool.Pool
	ret Retention
}

// NewPostgresEventLog constructs a PostgresEventLog.
func NewPostgresEventLog(db *pgxpool.Pool, ret Retention) *PostgresEventLog {
	return &PostgresEventLog{db: db, ret: ret}
}

// Claim performs the check-and-set as one INSERT … ON CONFLICT statement.
//
// Two concurrent deliveries of the same key cannot both win: the conflicting
// INSERT waits on the row lock taken by the first one, then re-evaluates the
// WHERE clause against the committed in_flight row and updates nothing, so
// RETURNING yields no row and the second caller sees a duplicate.
func (r *PostgresEventLog) Claim(ctx context.Context, ev model.InboundEvent, now time.Time) (bool, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`INSERT INTO processed_events (dedup_key, source, kind, state, attempts, claimed_at, expires_at)
		 VALUES ($1, $2, $3, 'in_flight', 1, $4, $5)
		 ON CONFLICT (dedup_key) DO UPDATE
		 SET state       = 'in_flight',
		     attempts    = processed_events.attempts + 1,
		     claimed_at  = EXCLUDED.claimed_at,
		     finished_at = NULL,
		     expires_at  = EXCLUDED.expires_at
		 WHERE processed_events.state = 'failed'
		    OR processed_events.expires_at <= EXCLUDED.claimed_at
		    OR (processed_events.state = 'in_flight' AND processed_events.claimed_at <= $6)
		 RETURNING attempts`,
		ev.DedupKey, string(ev.Source), string(ev.Kind), now, now.Add(r.ret.Keep), now.Add(-r.ret.Lease),
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim event: %w", err)
	}
	return true, nil
}

// Complete marks key as completed and restarts its retention window.
func (r *PostgresEventLog) Complete(ctx context.Context, key string, now time.Time) error {
	return r.finish(ctx, key, StateCompleted, "", now)
}

// Fail marks key as failed so the next delivery re-runs it.
func (r *PostgresEventLog) Fail(ctx context.Context, key string, cause error, now time.Time) error {
	return r.finish(ctx, key, StateFailed, errText(cause), now)
}

func (r *PostgresEventLog) finish(ctx context.Context, key string, state State, lastErr string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE processed_events
		 SET state = $2, last_error = $3, finished_at = $4, expires_at = $5
		 WHERE dedup_key = $1`,
		key, string(state), lastErr, now, now.Add(r.ret.Keep),
	)
	if err != nil {
		return fmt.Errorf("mark event %s: %w", state, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a single record or ErrNotFound.
func (r *PostgresEventLog) Get(ctx context.Context, key string) (*EventRecord, error) {
	var (
		rec          EventRecord
		source, kind string
		state        string
	)
	err := r.db.QueryRow(ctx,
		`SELECT dedup_key, source, kind, state, attempts, last_error, claimed_at, finished_at, expires_at
		 FROM processed_events WHERE dedup_key = $1`,
		key,
	).Scan(&rec.DedupKey, &source, &kind, &state, &rec.Attempts, &rec.LastError,
		&rec.ClaimedAt, &rec.FinishedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	rec.Source = model.Source(source)
	rec.Kind = model.Kind(kind)
	rec.State = State(state)
	return &rec, nil
}

// Purge deletes every record whose retention has elapsed.
func (r *PostgresEventLog) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_events WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}
