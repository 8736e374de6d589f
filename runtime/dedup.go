package runtime

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultDedupCapacity = 4096
	defaultDedupMaxAge   = 10 * time.Minute
	defaultMaxAttempts   = 3
)

// RetryTracker is the idempotence filter consulted by the dispatcher before
// routing an inbound event: Seen/Mark answer whether a delivery id has
// already been processed. It also counts processing attempts per message id
// so a message the adapter keeps failing on is marked permanently failed
// instead of being retried forever.
//
// Storage is bounded by capacity and age. Evicting an entry that is later
// redelivered reintroduces a duplicate; that risk is bounded by the
// platform's redelivery window and accepted.
type RetryTracker struct {
	mu sync.Mutex

	capacity int
	maxAge   time.Duration
	order    *list.List // oldest first; values are *dedupEntry
	byID     map[string]*list.Element

	maxAttempts int
	attempts    map[string]*attemptState
	failed      map[string]time.Time
	lastSweep   time.Time

	now func() time.Time
}

type dedupEntry struct {
	deliveryID string
	seenAt     time.Time
}

type attemptState struct {
	count int
	last  time.Time
}

// TrackerOption configures a RetryTracker.
type TrackerOption func(*RetryTracker)

// WithCapacity bounds the number of remembered delivery ids.
func WithCapacity(n int) TrackerOption {
	return func(t *RetryTracker) { t.capacity = n }
}

// WithMaxAge bounds how long a delivery id is remembered.
func WithMaxAge(d time.Duration) TrackerOption {
	return func(t *RetryTracker) { t.maxAge = d }
}

// WithMaxAttempts sets how many processing attempts a message gets before it
// is considered permanently failed.
func WithMaxAttempts(n int) TrackerOption {
	return func(t *RetryTracker) { t.maxAttempts = n }
}

// NewRetryTracker creates a tracker with the default bounds.
func NewRetryTracker(opts ...TrackerOption) *RetryTracker {
	t := &RetryTracker{
		capacity:    defaultDedupCapacity,
		maxAge:      defaultDedupMaxAge,
		order:       list.New(),
		byID:        make(map[string]*list.Element),
		maxAttempts: defaultMaxAttempts,
		attempts:    make(map[string]*attemptState),
		failed:      make(map[string]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Seen reports whether this delivery id has already been marked processed.
func (t *RetryTracker) Seen(deliveryID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	_, ok := t.byID[deliveryID]
	return ok
}

// Mark records a delivery id as processed.
func (t *RetryTracker) Mark(deliveryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[deliveryID]; ok {
		return
	}
	t.byID[deliveryID] = t.order.PushBack(&dedupEntry{deliveryID: deliveryID, seenAt: t.now()})
	t.evictLocked()
}

// Len returns the number of remembered delivery ids.
func (t *RetryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	return t.order.Len()
}

// RecordAttempt increments and returns the processing-attempt count for a
// message id. Delivery ids change across redeliveries; the message id is
// stable, so attempts accumulate across them.
func (t *RetryTracker) RecordAttempt(messageID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepAttemptsLocked()
	st := t.attempts[messageID]
	if st == nil {
		st = &attemptState{}
		t.attempts[messageID] = st
	}
	st.count++
	st.last = t.now()
	return st.count
}

// MarkSuccess clears attempt state for a message that processed cleanly.
func (t *RetryTracker) MarkSuccess(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, messageID)
	delete(t.failed, messageID)
}

// Exhausted reports whether a message has used up its processing attempts.
func (t *RetryTracker) Exhausted(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepAttemptsLocked()
	if _, ok := t.failed[messageID]; ok {
		return true
	}
	st := t.attempts[messageID]
	return st != nil && st.count >= t.maxAttempts
}

// MarkPermanentlyFailed records that no further attempts will be made for a
// message id.
func (t *RetryTracker) MarkPermanentlyFailed(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[messageID] = t.now()
	delete(t.attempts, messageID)
}

// sweepAttemptsLocked drops attempt and failure state not touched within
// maxAge, keeping both maps bounded by the platform's redelivery window the
// same way the delivery-id store is. Sweeps are rate-limited; slightly stale
// entries between sweeps are fine.
func (t *RetryTracker) sweepAttemptsLocked() {
	now := t.now()
	if now.Sub(t.lastSweep) < t.maxAge/10 {
		return
	}
	t.lastSweep = now
	cutoff := now.Add(-t.maxAge)
	for id, st := range t.attempts {
		if st.last.Before(cutoff) {
			delete(t.attempts, id)
		}
	}
	for id, at := range t.failed {
		if at.Before(cutoff) {
			delete(t.failed, id)
		}
	}
}

func (t *RetryTracker) evictLocked() {
	cutoff := t.now().Add(-t.maxAge)
	for t.order.Len() > 0 {
		front := t.order.Front()
		e := front.Value.(*dedupEntry)
		if t.order.Len() <= t.capacity && e.seenAt.After(cutoff) {
			break
		}
		t.order.Remove(front)
		delete(t.byID, e.deliveryID)
	}
}
