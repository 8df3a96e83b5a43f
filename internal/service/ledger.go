package service

import (
	"sync"
	"time"
)

// seatState is the ledger's view of one group.
type seatState struct {
	// confirmed is the highest member count read back after a completed add.
	confirmed int
	// pending counts reservations whose add-member call is still in flight.
	pending  int
	full     bool
	notified bool
	touched  time.Time
}

// SeatLedger serialises seat reservation per group inside this process.
//
// The Registry offers no atomic "reserve if under capacity" call, so the
// ledger performs the conditional increment locally: a reservation succeeds
// only while max(observed, confirmed) + pending stays below capacity. The
// mutex is never held across a remote call; callers reserve, release the
// lock, call the Registry, then Commit or Release.
type SeatLedger struct {
	mu       sync.Mutex
	groups   map[string]*seatState
	capacity int
	idleTTL  time.Duration
	nowFn    func() time.Time
}

// NewSeatLedger returns a ledger for groups of the given capacity. A group's
// confirmed count is forgotten after idleTTL without activity, so members
// removed in the Registry eventually free their seats here too.
func NewSeatLedger(capacity int, idleTTL time.Duration) *SeatLedger {
	return &SeatLedger{
		groups:   map[string]*seatState{},
		capacity: capacity,
		idleTTL:  idleTTL,
		nowFn:    time.Now,
	}
}

func (l *SeatLedger) state(groupID string) *seatState {
	st, ok := l.groups[groupID]
	if !ok {
		st = &seatState{}
		l.groups[groupID] = st
	}
	now := l.nowFn()
	if st.pending == 0 && l.idleTTL > 0 && !st.touched.IsZero() && now.Sub(st.touched) > l.idleTTL {
		st.confirmed = 0
	}
	st.touched = now
	return st
}

// Reserve takes one seat in groupID given the member count the caller just
// observed. It returns the seat number taken, or false when the group has no
// free seat or is already known to be full.
func (l *SeatLedger) Reserve(groupID string, observed int) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(groupID)
	taken := max(observed, st.confirmed) + st.pending
	if st.full || taken >= l.capacity {
		return 0, false
	}
	st.pending++
	return taken + 1, true
}

// Commit settles a reservation after the add-member call succeeded and the
// group's count was read back.
func (l *SeatLedger) Commit(groupID string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(groupID)
	if st.pending > 0 {
		st.pending--
	}
	st.confirmed = max(st.confirmed, count)
}

// Release returns a reserved seat after a failed add-member call.
func (l *SeatLedger) Release(groupID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(groupID)
	if st.pending > 0 {
		st.pending--
	}
}

// MarkFull flags the group as full. It returns true only for the first call
// per group, which is the caller that must send the "group full" notice.
func (l *SeatLedger) MarkFull(groupID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(groupID)
	st.full = true
	if st.notified {
		return false
	}
	st.notified = true
	return true
}

// IsFull reports whether the group has been marked full.
func (l *SeatLedger) IsFull(groupID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.groups[groupID]
	return ok && st.full
}

// Taken returns the ledger's seat count for a group given an observed count.
func (l *SeatLedger) Taken(groupID string, observed int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.groups[groupID]
	if !ok {
		return observed
	}
	if st.full {
		return l.capacity
	}
	return max(observed, st.confirmed) + st.pending
}

// Sweep forgets groups that have been idle for longer than idleTTL and hold
// neither a pending reservation nor the full flag. It returns how many were
// dropped.
func (l *SeatLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	n := 0
	for id, st := range l.groups {
		if st.pending > 0 || st.full || now.Sub(st.touched) <= l.idleTTL {
			continue
		}
		delete(l.groups, id)
		n++
	}
	return n
}

// Len returns how many groups the ledger tracks.
func (l *SeatLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.groups)
}
