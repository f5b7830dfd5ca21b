// Package backoff implements the retry/backoff engine: Fibonacci
// backoff sequencing and Retry-After parsing. The domain-blocking
// decision itself (consecutive_errors, blocked_until, re-queue) lives in
// the fetch pipeline, which owns the domain state table lock across the
// whole retryable-outcome sequence; this package supplies the pure
// computations that sequence needs.
package backoff

import (
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxSeconds is the default cap on computed backoff
// (max_retry_backoff_seconds).
const DefaultMaxSeconds = 600

// MaxRetries is the retry_count ceiling past which a URL is dropped
// rather than re-queued.
const MaxRetries = 5

// fibSeconds is the backoff sequence in seconds, 1-indexed by
// consecutive_errors (index 0 is unused padding so FibBackoff(1) returns
// the first element).
var fibSeconds = []int{0, 3, 3, 6, 9, 15, 24, 39, 63, 102, 165, 267}

// FibBackoff returns the Fibonacci backoff duration for the given
// consecutive-error count, capped at maxSeconds. attempt must be >= 1;
// attempts beyond the precomputed table continue the sequence by adding
// the prior two terms.
func FibBackoff(attempt int, maxSeconds int) time.Duration {
	if maxSeconds <= 0 {
		maxSeconds = DefaultMaxSeconds
	}
	if attempt < 1 {
		attempt = 1
	}

	seconds := fibAt(attempt)
	if seconds > maxSeconds {
		seconds = maxSeconds
	}
	return time.Duration(seconds) * time.Second
}

func fibAt(attempt int) int {
	if attempt < len(fibSeconds) {
		return fibSeconds[attempt]
	}
	a, b := fibSeconds[len(fibSeconds)-2], fibSeconds[len(fibSeconds)-1]
	for i := len(fibSeconds); i <= attempt; i++ {
		a, b = b, a+b
	}
	return b
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is
// either an integer number of seconds or an HTTP-date. now is used to
// compute a duration from an HTTP-date value. ok is false if the header
// is empty or unparseable as either form.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// Compute resolves the backoff duration for a retryable outcome:
// Retry-After wins if present, otherwise the Fibonacci sequence keyed by
// the domain's consecutive_errors count, both capped at maxSeconds.
func Compute(retryAfter string, consecutiveErrors int, maxSeconds int, now time.Time) time.Duration {
	if d, ok := ParseRetryAfter(retryAfter, now); ok {
		if maxSeconds <= 0 {
			maxSeconds = DefaultMaxSeconds
		}
		capped := time.Duration(maxSeconds) * time.Second
		if d > capped {
			return capped
		}
		return d
	}
	return FibBackoff(consecutiveErrors, maxSeconds)
}
