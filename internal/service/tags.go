package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// tagPrefix marks sync tags issued by this service.
const tagPrefix = "eb-"

type delivery struct {
	status  model.Status
	expires time.Time
}

// TagBook remembers the sync tags this service attached to its own writes,
// and the last status message delivered to each Messenger recipient. Both
// are kept for a bounded window, long enough to recognise the echo webhook a
// platform sends back after applying our change.
type TagBook struct {
	mu        sync.Mutex
	issued    map[string]time.Time
	delivered map[string]delivery
	ttl       time.Duration
	nowFn     func() time.Time
}

// NewTagBook returns an empty TagBook whose entries live for ttl.
func NewTagBook(ttl time.Duration) *TagBook {
	return &TagBook{
		issued:    map[string]time.Time{},
		delivered: map[string]delivery{},
		ttl:       ttl,
		nowFn:     time.Now,
	}
}

// Issue creates and records a new tag.
func (b *TagBook) Issue() string {
	tag := tagPrefix + uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued[tag] = b.nowFn().Add(b.ttl)
	return tag
}

// Issued reports whether tag was issued by this book and has not expired.
func (b *TagBook) Issued(tag string) bool {
	if tag == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.issued[tag]
	return ok && b.nowFn().Before(exp)
}

// RememberDelivery records that recipient was told about status.
func (b *TagBook) RememberDelivery(recipient string, status model.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered[recipient] = delivery{status: status.Normalize(), expires: b.nowFn().Add(b.ttl)}
}

// LastDelivered returns the last status delivered to recipient, if recent.
func (b *TagBook) LastDelivered(recipient string) (model.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.delivered[recipient]
	if !ok || !b.nowFn().Before(d.expires) {
		return "", false
	}
	return d.status, true
}

// Sweep drops expired entries and returns how many were removed.
func (b *TagBook) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.nowFn()
	n := 0
	for tag, exp := range b.issued {
		if !now.Before(exp) {
			delete(b.issued, tag)
			n++
		}
	}
	for rcpt, d := range b.delivered {
		if !now.Before(d.expires) {
			delete(b.delivered, rcpt)
			n++
		}
	}
	return n
}
