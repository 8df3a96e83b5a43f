package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// MemoryEventLog is a process-local EventLog used when no database is
// configured and in tests.
type MemoryEventLog struct {
	mu   sync.Mutex
	rows map[string]EventRecord
	ret  Retention
}

// NewMemoryEventLog constructs an empty MemoryEventLog.
func NewMemoryEventLog(ret Retention) *MemoryEventLog {
	return &MemoryEventLog{rows: map[string]EventRecord{}, ret: ret}
}

// Claim implements EventLog.
func (r *MemoryEventLog) Claim(_ context.Context, ev model.InboundEvent, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, exists := r.rows[ev.DedupKey]
	if exists && !claimable(row, now, r.ret.Lease) {
		return false, nil
	}
	attempts := 1
	if exists {
		attempts = row.Attempts + 1
	}
	r.rows[ev.DedupKey] = EventRecord{
		DedupKey:  ev.DedupKey,
		Source:    ev.Source,
		Kind:      ev.Kind,
		State:     StateInFlight,
		Attempts:  attempts,
		ClaimedAt: now,
		ExpiresAt: now.Add(r.ret.Keep),
	}
	return true, nil
}

func claimable(row EventRecord, now time.Time, lease time.Duration) bool {
	switch {
	case !row.ExpiresAt.After(now):
		return true
	case row.State == StateFailed:
		return true
	case row.State == StateInFlight && !row.ClaimedAt.Add(lease).After(now):
		return true
	default:
		return false
	}
}

// Complete implements EventLog.
func (r *MemoryEventLog) Complete(_ context.Context, key string, now time.Time) error {
	return r.finish(key, StateCompleted, "", now)
}

// Fail implements EventLog.
func (r *MemoryEventLog) Fail(_ context.Context, key string, cause error, now time.Time) error {
	return r.finish(key, StateFailed, errText(cause), now)
}

func (r *MemoryEventLog) finish(key string, state State, lastErr string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return ErrNotFound
	}
	finished := now
	row.State = state
	row.LastError = lastErr
	row.FinishedAt = &finished
	row.ExpiresAt = now.Add(r.ret.Keep)
	r.rows[key] = row
	return nil
}

// Get implements EventLog.
func (r *MemoryEventLog) Get(_ context.Context, key string) (*EventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

// Purge implements EventLog.
func (r *MemoryEventLog) Purge(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, row := range r.rows {
		if !row.ExpiresAt.After(now) {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}
