// Package dedup implements the seen-URL filter gating re-enqueue of
// link-discovered and sitemap-discovered URLs: a Bloom filter for a
// cheap first check, backed by an exact in-memory set to resolve the
// Bloom filter's false positives so a probably-seen key can't wrongly
// suppress a URL that was never actually enqueued.
package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
)

// Filter gates duplicate enqueues by SURT key within a single crawl run.
type Filter struct {
	mu     sync.Mutex
	bloom  *bloom.BloomFilter
	seen   map[string]struct{}
	logger *zap.Logger
}

// New creates a Filter sized for n expected keys at the given false
// positive rate (before the exact-set correction).
func New(n uint, falsePositiveRate float64, logger *zap.Logger) *Filter {
	if n == 0 {
		n = 100_000
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = 0.01
	}
	return &Filter{
		bloom:  bloom.NewWithEstimates(n, falsePositiveRate),
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// SeenOrMark reports whether key has already been marked, and if not,
// marks it atomically in the same call — the check-and-set gate used
// before pushing a discovered URL onto the priority queue.
func (f *Filter) SeenOrMark(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bloom.TestString(key) {
		if _, exact := f.seen[key]; exact {
			return true
		}
		// Bloom false positive: not actually seen, fall through to mark it.
	}

	f.bloom.AddString(key)
	f.seen[key] = struct{}{}
	return false
}

// Count returns the exact number of distinct keys marked seen.
func (f *Filter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
