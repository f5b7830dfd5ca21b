package domainstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPolicy() Policy {
	return Policy{
		MinCrawlDelay:        500 * time.Millisecond,
		MaxCrawlDelay:        60 * time.Second,
		DefaultCrawlDelay:    time.Second,
		MaxParallelPerDomain: 2,
	}
}

func TestGetOrCreateSeedsPolicy(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	assert.Equal(t, time.Second, s.CrawlDelay)
	assert.Equal(t, 1, tbl.Len())
}

func TestGetOrCreateReturnsSameState(t *testing.T) {
	tbl := New()
	s1, unlock1 := tbl.GetOrCreate("example.com", defaultPolicy())
	s1.ConsecutiveErrors = 3
	unlock1()

	s2, unlock2 := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock2()
	assert.Equal(t, 3, s2.ConsecutiveErrors, "expected same underlying state")
	assert.Equal(t, 1, tbl.Len(), "expected GetOrCreate to not duplicate state")
}

func TestTryGetMissing(t *testing.T) {
	tbl := New()
	_, _, ok := tbl.TryGet("nowhere.example")
	assert.False(t, ok, "expected TryGet on unknown authority to report ok=false")
}

func TestReserveCrawlSlotAtomic(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	s.CrawlDelay = time.Second
	now := time.Now()

	ready, _ := s.ReserveCrawlSlot(now)
	require.True(t, ready, "expected first reservation to succeed")
	assert.True(t, s.LastCrawlTime.Equal(now), "expected LastCrawlTime stamped to now")

	ready, next := s.ReserveCrawlSlot(now.Add(200 * time.Millisecond))
	assert.False(t, ready, "expected second reservation inside the delay window to fail")
	assert.True(t, next.Equal(now.Add(time.Second)), "expected nextAvailable = now+delay, got %v", next)

	ready, _ = s.ReserveCrawlSlot(now.Add(2 * time.Second))
	assert.True(t, ready, "expected reservation after the delay window to succeed")
	unlock()
}

func TestParallelSlotCap(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	assert.True(t, s.TryAcquireParallelSlot(), "expected first slot to be acquired")
	assert.True(t, s.TryAcquireParallelSlot(), "expected second slot to be acquired (cap=2)")
	assert.False(t, s.TryAcquireParallelSlot(), "expected third slot to be refused")

	s.ReleaseParallelSlot()
	assert.True(t, s.TryAcquireParallelSlot(), "expected slot to be acquirable again after release")
}

func TestRecordRetryableThenSuccessClearsBlock(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	now := time.Now()
	s.RecordRetryable(now, 10*time.Second)
	assert.True(t, s.IsBlocked(now.Add(time.Second)), "expected domain blocked after retryable outcome")
	assert.Equal(t, 1, s.ConsecutiveErrors)

	s.RecordSuccess(now.Add(time.Second))
	assert.False(t, s.IsBlocked(now.Add(time.Second)), "expected block cleared after success")
	assert.Equal(t, 0, s.ConsecutiveErrors, "expected consecutive_errors reset after success")
}

func TestUpdateEMARaisesDelayOnSlowOutlier(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	s.CrawlDelay = time.Second
	for i := 0; i < 9; i++ {
		s.UpdateEMA(100 * time.Millisecond)
	}
	before := s.CrawlDelay

	s.UpdateEMA(5 * time.Second)
	assert.Greater(t, s.CrawlDelay, before, "expected crawl delay to rise on a slow outlier")
}

func TestUpdateEMALowersDelayOnFastResponse(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	s.CrawlDelay = 10 * time.Second
	for i := 0; i < 9; i++ {
		s.UpdateEMA(2 * time.Second)
	}
	before := s.CrawlDelay

	s.UpdateEMA(500 * time.Millisecond)
	assert.Less(t, s.CrawlDelay, before, "expected crawl delay to fall on a fast response")
	assert.GreaterOrEqual(t, s.CrawlDelay, s.Policy.MinCrawlDelay, "expected crawl delay clamped to min")
}

func TestUpdateEMADoesNotAdjustBeforeEnoughSamples(t *testing.T) {
	tbl := New()
	s, unlock := tbl.GetOrCreate("example.com", defaultPolicy())
	defer unlock()

	s.CrawlDelay = time.Second
	s.UpdateEMA(50 * time.Millisecond)
	s.UpdateEMA(20 * time.Second)

	assert.Equal(t, time.Second, s.CrawlDelay, "expected no delay adjustment before response_count > 8")
}
