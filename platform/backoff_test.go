package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= 30; attempt++ {
		expected := backoffBase << (attempt - 1)
		if expected > backoffCap || expected <= 0 {
			expected = backoffCap
		}
		for i := 0; i < 20; i++ {
			d := backoffDelay(attempt)
			assert.GreaterOrEqual(t, d, expected-expected/4,
				"attempt %d below jitter floor", attempt)
			assert.Less(t, d, expected+expected/4+time.Millisecond,
				"attempt %d above jitter ceiling", attempt)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, backoffDelay(1000), backoffCap+backoffCap/4)
	}
}
