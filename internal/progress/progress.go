// Package progress implements the progress reporter: atomic counters
// surfaced to the host via a rate-limited callback: each counter update
// may fire the callback, but never more often than once per interval.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one point-in-time read of the progress counters.
type Snapshot struct {
	Enqueued   int64
	Completed  int64
	Failed     int64
	Skipped    int64
	Bytes      int64
	Percentage float64 // -1 when Total is unknown
}

// Callback receives a Snapshot, invoked at most once per interval.
type Callback func(Snapshot)

// Reporter tracks crawl progress counters and invokes a callback no more
// often than every interval.
type Reporter struct {
	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	bytes     atomic.Int64

	total int64 // 0 means unknown (link-following mode)

	mu       sync.Mutex
	callback Callback
	interval time.Duration
	lastFire time.Time
}

// New creates a Reporter. total is the known URL count, or 0 if the
// total is unknown (link-following mode), in which case Percentage is
// always reported as -1. callback may be nil.
func New(total int64, interval time.Duration, callback Callback) *Reporter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Reporter{total: total, interval: interval, callback: callback}
}

// IncEnqueued increments the enqueued counter and maybe fires the callback.
func (r *Reporter) IncEnqueued(n int64) { r.enqueued.Add(n); r.maybeFire() }

// IncCompleted increments the completed counter and adds bytes.
func (r *Reporter) IncCompleted(bytes int64) {
	r.completed.Add(1)
	r.bytes.Add(bytes)
	r.maybeFire()
}

// IncFailed increments the failed counter.
func (r *Reporter) IncFailed() { r.failed.Add(1); r.maybeFire() }

// IncSkipped increments the skipped counter.
func (r *Reporter) IncSkipped() { r.skipped.Add(1); r.maybeFire() }

// Snapshot returns the current counter values without rate limiting.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Enqueued:  r.enqueued.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		Bytes:     r.bytes.Load(),
	}
	if r.total <= 0 {
		s.Percentage = -1
	} else {
		done := s.Completed + s.Failed + s.Skipped
		s.Percentage = 100 * float64(done) / float64(r.total)
	}
	return s
}

// maybeFire invokes the callback if at least interval has elapsed since
// the last invocation.
func (r *Reporter) maybeFire() {
	if r.callback == nil {
		return
	}

	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.lastFire) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastFire = now
	r.mu.Unlock()

	r.callback(r.Snapshot())
}
