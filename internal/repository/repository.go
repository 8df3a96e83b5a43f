// Package repository implements the processed-event log: the seen-event set
// the dispatcher consults before running any webhook side effect.
//
// A key moves through three states:
//
//	(absent) --Claim--> in_flight --Complete--> completed
//	                        |
//	                        +------Fail------> failed --Claim--> in_flight
//
// Claim is the single atomic check-and-set. It succeeds for an absent key, a
// failed key, an expired key, or an in_flight key whose lease has lapsed (the
// attempt that held it crashed). Every other Claim reports a duplicate.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// State is the processing state of a dedup key.
type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// EventRecord is one row of the processed-event log.
type EventRecord struct {
	DedupKey   string
	Source     model.Source
	Kind       model.Kind
	State      State
	Attempts   int
	LastError  string
	ClaimedAt  time.Time
	FinishedAt *time.Time
	ExpiresAt  time.Time
}

// EventLog is the seen-event set.
type EventLog interface {
	// Claim atomically marks the event in flight. It returns false when the
	// key is already completed or held by a live attempt.
	Claim(ctx context.Context, ev model.InboundEvent, now time.Time) (bool, error)
	// Complete records a fully successful attempt.
	Complete(ctx context.Context, key string, now time.Time) error
	// Fail records a failed attempt so a redelivery re-runs it.
	Fail(ctx context.Context, key string, cause error, now time.Time) error
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key string) (*EventRecord, error)
	// Purge deletes records whose retention has elapsed.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Retention controls how long keys are remembered.
type Retention struct {
	// Keep is how long a finished key absorbs redeliveries.
	Keep time.Duration
	// Lease is how long an in-flight attempt owns its key.
	Lease time.Duration
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
