package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotUnknownTotalReportsNegativePercentage(t *testing.T) {
	r := New(0, time.Millisecond, nil)
	r.IncCompleted(100)
	s := r.Snapshot()
	assert.Equal(t, float64(-1), s.Percentage)
}

func TestSnapshotKnownTotalComputesPercentage(t *testing.T) {
	r := New(10, time.Millisecond, nil)
	for i := 0; i < 5; i++ {
		r.IncCompleted(10)
	}
	s := r.Snapshot()
	assert.Equal(t, float64(50), s.Percentage)
	assert.Equal(t, int64(50), s.Bytes)
}

func TestCountersIncrementIndependently(t *testing.T) {
	r := New(0, time.Millisecond, nil)
	r.IncEnqueued(3)
	r.IncCompleted(1)
	r.IncFailed()
	r.IncSkipped()

	s := r.Snapshot()
	assert.Equal(t, int64(3), s.Enqueued)
	assert.Equal(t, int64(1), s.Completed)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.Skipped)
}

func TestCallbackRateLimited(t *testing.T) {
	var calls int
	r := New(0, 50*time.Millisecond, func(Snapshot) { calls++ })

	for i := 0; i < 20; i++ {
		r.IncCompleted(1)
	}
	assert.Equal(t, 1, calls, "expected exactly 1 callback fire in a tight burst")

	time.Sleep(60 * time.Millisecond)
	r.IncCompleted(1)
	assert.Equal(t, 2, calls, "expected callback to fire again after the interval elapsed")
}
