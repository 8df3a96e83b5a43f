package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeatLedger_ReserveUpToCapacity(t *testing.T) {
	l := NewSeatLedger(3, time.Minute)

	for want := 2; want <= 3; want++ {
		seat, ok := l.Reserve("g", 1)
		assert.True(t, ok)
		assert.Equal(t, want, seat)
	}
	_, ok := l.Reserve("g", 1)
	assert.False(t, ok)

	l.Release("g")
	seat, ok := l.Reserve("g", 1)
	assert.True(t, ok)
	assert.Equal(t, 3, seat)
}

func TestSeatLedger_CommittedCountOutranksStaleObservation(t *testing.T) {
	l := NewSeatLedger(8, time.Minute)

	_, ok := l.Reserve("g", 7)
	assert.True(t, ok)
	l.Commit("g", 8)

	_, ok = l.Reserve("g", 5)
	assert.False(t, ok, "a stale listing must not reopen a filled group")
}

func TestSeatLedger_IdleResetForgetsConfirmed(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewSeatLedger(8, time.Minute)
	l.nowFn = func() time.Time { return now }

	l.Reserve("g", 7)
	l.Commit("g", 8)
	assert.Equal(t, 8, l.Taken("g", 6))

	now = now.Add(2 * time.Minute)
	_, ok := l.Reserve("g", 6)
	assert.True(t, ok, "members removed in the registry free their seats after idle")
}

func TestSeatLedger_MarkFull(t *testing.T) {
	l := NewSeatLedger(8, time.Minute)

	assert.True(t, l.MarkFull("g"))
	assert.False(t, l.MarkFull("g"))
	assert.True(t, l.IsFull("g"))
	assert.False(t, l.IsFull("other"))
	assert.Equal(t, 8, l.Taken("g", 2))

	_, ok := l.Reserve("g", 0)
	assert.False(t, ok)
}

func TestSeatLedger_ConcurrentReserve(t *testing.T) {
	l := NewSeatLedger(8, time.Minute)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Reserve("g", 0); ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), granted.Load())
}

func TestSeatLedger_SweepDropsIdleEntries(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewSeatLedger(8, time.Minute)
	l.nowFn = func() time.Time { return now }

	l.Reserve("idle", 2)
	l.Commit("idle", 3)
	l.Reserve("inflight", 2)
	l.MarkFull("full")

	assert.Zero(t, l.Sweep(), "fresh entries stay")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.IsFull("full"))
	assert.Equal(t, 3, l.Taken("inflight", 2))
}
