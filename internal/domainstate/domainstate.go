// Package domainstate implements the per-domain politeness state table: a
// concurrent map from authority to politeness state, using a
// double-checked-locking pattern to hold the full politeness record the
// fetch pipeline needs (robots rules, crawl delay, active-request count,
// block window, adaptive EMA).
package domainstate

import (
	"sync"
	"time"

	"github.com/seo-platform/crawler/internal/robots"
)

// Policy carries the host-level defaults a freshly created DomainState is
// seeded with, mirroring the MinCrawlDelay/MaxCrawlDelay/DefaultCrawlDelay
// settings in internal/config.
type Policy struct {
	MinCrawlDelay        time.Duration
	MaxCrawlDelay        time.Duration
	DefaultCrawlDelay    time.Duration
	MaxParallelPerDomain int
}

// DomainState is the per-domain politeness record. All fields are
// protected by mu; callers obtain exclusive access via Table.GetOrCreate
// or Table.TryGet, which return an unlock function alongside the state.
type DomainState struct {
	mu sync.Mutex

	Authority string
	Policy    Policy

	RobotsFetched   bool
	RobotsFetchedAt time.Time
	Robots          *robots.Rules
	HasCrawlDelay   bool
	CrawlDelay      time.Duration

	LastCrawlTime     time.Time
	BlockedUntil      time.Time
	ActiveRequests    int
	ConsecutiveErrors int

	EMAResponseTime time.Duration
	ResponseCount   int
}

// IsBlocked reports whether the domain is currently within a
// Retry-After/backoff block window.
func (s *DomainState) IsBlocked(now time.Time) bool {
	return s.BlockedUntil.After(now)
}

// SetRobots records the parsed robots rules and effective crawl delay for
// this domain. Called once per domain after the first robots.txt fetch.
func (s *DomainState) SetRobots(rules *robots.Rules, hasCrawlDelay bool, crawlDelay time.Duration) {
	s.RobotsFetched = true
	s.Robots = rules
	s.HasCrawlDelay = hasCrawlDelay
	s.CrawlDelay = crawlDelay
}

// ReserveCrawlSlot implements the atomic slot reservation: if the
// per-domain delay window has elapsed, it stamps
// LastCrawlTime as now (claiming the slot) and returns ready=true, all
// before the caller makes the network call. If the window hasn't
// elapsed, it returns ready=false and the time at which it will.
func (s *DomainState) ReserveCrawlSlot(now time.Time) (ready bool, nextAvailable time.Time) {
	due := s.LastCrawlTime.Add(s.CrawlDelay)
	if now.Before(due) {
		return false, due
	}
	s.LastCrawlTime = now
	return true, time.Time{}
}

// TryAcquireParallelSlot is the non-crawl-delay path: it admits the
// request if ActiveRequests is under the per-domain cap, incrementing it
// atomically under the domain lock.
func (s *DomainState) TryAcquireParallelSlot() bool {
	max := s.Policy.MaxParallelPerDomain
	if max <= 0 {
		max = 1
	}
	if s.ActiveRequests >= max {
		return false
	}
	s.ActiveRequests++
	return true
}

// ReleaseParallelSlot decrements ActiveRequests; callers must invoke it on
// every exit path of a request acquired via TryAcquireParallelSlot.
func (s *DomainState) ReleaseParallelSlot() {
	if s.ActiveRequests > 0 {
		s.ActiveRequests--
	}
}

// RecordSuccess resets the error/block state on any successful outcome
// from this domain, so every other URL queued against it resumes
// immediately.
func (s *DomainState) RecordSuccess(now time.Time) {
	s.ConsecutiveErrors = 0
	s.BlockedUntil = now.Add(-time.Second)
}

// RecordRetryable increments the consecutive error count and sets the
// block window for the whole domain.
func (s *DomainState) RecordRetryable(now time.Time, backoff time.Duration) {
	s.ConsecutiveErrors++
	s.BlockedUntil = now.Add(backoff)
}

// UpdateEMA implements the adaptive crawl-delay tuning: exponential
// moving average of response time, raising the delay by 1.5x when a
// response takes more than twice the average and lowering it by 0.9x when
// a response takes less than half of it, both clamped to the domain's
// policy bounds. Once more than 8 responses have been seen, a single
// response triggers either adjustment; no run of fast responses is
// required before the delay is lowered.
func (s *DomainState) UpdateEMA(rt time.Duration) {
	const alpha = 0.2

	if s.ResponseCount == 0 {
		s.EMAResponseTime = rt
	} else {
		s.EMAResponseTime = time.Duration(alpha*float64(rt) + (1-alpha)*float64(s.EMAResponseTime))
	}
	s.ResponseCount++

	if s.ResponseCount <= 8 {
		return
	}

	ema := s.EMAResponseTime
	if ema <= 0 {
		return
	}

	minDelay := s.Policy.MinCrawlDelay
	maxDelay := s.Policy.MaxCrawlDelay

	switch {
	case float64(rt) > 2*float64(ema):
		s.CrawlDelay = clampDuration(time.Duration(float64(s.CrawlDelay)*1.5), minDelay, maxDelay)
	case float64(rt) < 0.5*float64(ema):
		s.CrawlDelay = clampDuration(time.Duration(float64(s.CrawlDelay)*0.9), minDelay, maxDelay)
	}
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if min > 0 && d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Table is the concurrent authority -> DomainState map. A coarse RWMutex
// guards insertion/lookup; mutation of an individual DomainState's fields
// is guarded by that state's own lock, obtained through the guard
// returned by GetOrCreate/TryGet.
type Table struct {
	mu      sync.RWMutex
	domains map[string]*DomainState
}

// New creates an empty Table.
func New() *Table {
	return &Table{domains: make(map[string]*DomainState)}
}

// TryGet returns the existing state for authority, locked, along with an
// unlock function the caller must invoke when done. ok is false if no
// state exists yet for this authority.
func (t *Table) TryGet(authority string) (state *DomainState, unlock func(), ok bool) {
	t.mu.RLock()
	s, exists := t.domains[authority]
	t.mu.RUnlock()
	if !exists {
		return nil, nil, false
	}
	s.mu.Lock()
	return s, s.mu.Unlock, true
}

// GetOrCreate returns the locked state for authority, creating one seeded
// from policy if it doesn't exist yet, and an unlock function the caller
// must invoke when done.
func (t *Table) GetOrCreate(authority string, policy Policy) (state *DomainState, unlock func()) {
	t.mu.RLock()
	s, exists := t.domains[authority]
	t.mu.RUnlock()
	if exists {
		s.mu.Lock()
		return s, s.mu.Unlock
	}

	t.mu.Lock()
	s, exists = t.domains[authority]
	if !exists {
		s = &DomainState{Authority: authority, Policy: policy, CrawlDelay: policy.DefaultCrawlDelay}
		t.domains[authority] = s
	}
	t.mu.Unlock()

	s.mu.Lock()
	return s, s.mu.Unlock
}

// Len returns the number of domains currently tracked.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.domains)
}
