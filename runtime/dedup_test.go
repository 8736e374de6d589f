package runtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryTrackerSeenMark(t *testing.T) {
	tr := NewRetryTracker()

	assert.False(t, tr.Seen("d1"))
	tr.Mark("d1")
	assert.True(t, tr.Seen("d1"))
	assert.False(t, tr.Seen("d2"))

	// Marking twice is harmless.
	tr.Mark("d1")
	assert.Equal(t, 1, tr.Len())
}

func TestRetryTrackerCapacityEviction(t *testing.T) {
	tr := NewRetryTracker(WithCapacity(3))

	for i := 0; i < 5; i++ {
		tr.Mark(fmt.Sprintf("d%d", i))
	}

	assert.Equal(t, 3, tr.Len())
	assert.False(t, tr.Seen("d0"), "oldest entries evict first")
	assert.False(t, tr.Seen("d1"))
	assert.True(t, tr.Seen("d4"))
}

func TestRetryTrackerAgeEviction(t *testing.T) {
	now := time.Now()
	tr := NewRetryTracker(WithMaxAge(time.Minute))
	tr.now = func() time.Time { return now }

	tr.Mark("old")
	now = now.Add(2 * time.Minute)
	tr.Mark("fresh")

	require.False(t, tr.Seen("old"))
	assert.True(t, tr.Seen("fresh"))
}

func TestRetryTrackerAttempts(t *testing.T) {
	tr := NewRetryTracker(WithMaxAttempts(2))

	assert.Equal(t, 1, tr.RecordAttempt("m1"))
	assert.False(t, tr.Exhausted("m1"))
	assert.Equal(t, 2, tr.RecordAttempt("m1"))
	assert.True(t, tr.Exhausted("m1"))

	tr.MarkSuccess("m1")
	assert.False(t, tr.Exhausted("m1"))

	tr.MarkPermanentlyFailed("m2")
	assert.True(t, tr.Exhausted("m2"))
}

func TestRetryTrackerAttemptStateAgesOut(t *testing.T) {
	now := time.Now()
	tr := NewRetryTracker(WithMaxAge(time.Minute), WithMaxAttempts(2))
	tr.now = func() time.Time { return now }

	tr.RecordAttempt("m1")
	tr.RecordAttempt("m1")
	tr.MarkPermanentlyFailed("m2")
	require.True(t, tr.Exhausted("m1"))
	require.True(t, tr.Exhausted("m2"))

	// Beyond the retention window both entries are forgotten, so the maps
	// stay bounded and a much later redelivery gets a fresh budget.
	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Exhausted("m1"))
	assert.False(t, tr.Exhausted("m2"))
	assert.Equal(t, 1, tr.RecordAttempt("m1"))
}
