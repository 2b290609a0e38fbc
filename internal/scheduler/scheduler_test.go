package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketKey_CollapsesWithinInterval(t *testing.T) {
	interval := 10 * time.Second
	base := time.Unix(1_000_000, 0)

	first := BucketKey("cleanup", base, interval)
	second := BucketKey("cleanup", base.Add(5*time.Second), interval)

	assert.Equal(t, first, second, "ticks within the same bucket must share an idempotency key")
}

func TestBucketKey_DiffersAcrossIntervals(t *testing.T) {
	interval := 10 * time.Second
	base := time.Unix(1_000_000, 0)

	first := BucketKey("cleanup", base, interval)
	second := BucketKey("cleanup", base.Add(11*time.Second), interval)

	assert.NotEqual(t, first, second)
}

func TestBucketKey_NonPositiveIntervalFallsBackToOneSecond(t *testing.T) {
	base := time.Unix(1_000_000, 0)

	assert.NotPanics(t, func() {
		BucketKey("cleanup", base, 0)
	})
	assert.Equal(t, "cleanup:1000000", BucketKey("cleanup", base, 0))
}
