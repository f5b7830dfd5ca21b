// Package fetch implements the fetch pipeline: for one URL queue entry,
// check robots and domain politeness state, call the transport
// collaborator exactly once, classify the outcome, and feed a
// successful HTML body to the extractor collaborator. It is the piece
// that ties together domainstate, robots, transport, extractor, errtype
// and backoff, sequenced as parse URL, check robots, fetch,
// post-process, with the domain lock held only across the short
// politeness decisions and released for the network call itself.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/seo-platform/crawler/internal/backoff"
	"github.com/seo-platform/crawler/internal/domainstate"
	"github.com/seo-platform/crawler/internal/errtype"
	"github.com/seo-platform/crawler/internal/extractor"
	"github.com/seo-platform/crawler/internal/robots"
	"github.com/seo-platform/crawler/internal/storage"
	"github.com/seo-platform/crawler/internal/transport"
	"github.com/seo-platform/crawler/internal/urlqueue"
)

// Config is the slice of the host configuration surface the fetch
// pipeline consults.
type Config struct {
	UserAgent            string
	RespectRobotsTxt     bool
	LogSkipped           bool
	MaxParallelPerDomain int
	MinCrawlDelay        time.Duration
	MaxCrawlDelay        time.Duration
	DefaultCrawlDelay    time.Duration
	MaxRetryBackoffSecs  int
	MaxResponseBytes     int64
	AcceptContentTypes   []string
	RejectContentTypes   []string
	RobotsCacheTTL       time.Duration

	// GlobalRequestsPerSecond caps the combined request rate across every
	// domain, smoothing the bursts per-domain politeness alone doesn't
	// prevent when many distinct domains come due at once. 0 disables it.
	GlobalRequestsPerSecond float64
}

// Outcome is the result of running the pipeline once for a queue entry.
// Exactly one of Result or Requeue is non-nil (Result may still be nil
// for a suppressed robots-disallow skip when LogSkipped is false).
type Outcome struct {
	Result  *storage.Result
	Requeue *urlqueue.Entry
	Links   []extractor.Link
}

// Pipeline runs the fetch workflow for queue entries against a shared
// domain state table.
type Pipeline struct {
	cfg       Config
	transport transport.Transport
	extractor extractor.Extractor
	domains   *domainstate.Table
	robotsTTL time.Duration
	global    *rate.Limiter
}

// New builds a Pipeline.
func New(cfg Config, t transport.Transport, ex extractor.Extractor, domains *domainstate.Table) *Pipeline {
	if cfg.RobotsCacheTTL <= 0 {
		cfg.RobotsCacheTTL = 24 * time.Hour
	}

	var global *rate.Limiter
	if cfg.GlobalRequestsPerSecond > 0 {
		global = rate.NewLimiter(rate.Limit(cfg.GlobalRequestsPerSecond), 1)
	}

	return &Pipeline{cfg: cfg, transport: t, extractor: ex, domains: domains, robotsTTL: cfg.RobotsCacheTTL, global: global}
}

func (p *Pipeline) policy() domainstate.Policy {
	return domainstate.Policy{
		MinCrawlDelay:        p.cfg.MinCrawlDelay,
		MaxCrawlDelay:        p.cfg.MaxCrawlDelay,
		DefaultCrawlDelay:    p.cfg.DefaultCrawlDelay,
		MaxParallelPerDomain: p.cfg.MaxParallelPerDomain,
	}
}

// Run executes the pipeline for one entry.
func (p *Pipeline) Run(ctx context.Context, entry urlqueue.Entry) (*Outcome, error) {
	authority, err := authorityOf(entry.NormalizedURL)
	if err != nil {
		return &Outcome{Result: &storage.Result{
			URL: entry.NormalizedURL, SURT: entry.SURT,
			ErrorMessage: err.Error(), ErrorType: string(errtype.ParseError),
			CrawledAt: time.Now(),
		}}, nil
	}

	now := time.Now()
	state, unlock := p.domains.GetOrCreate(authority, p.policy())

	// Step 2: honor an active domain block by re-queuing, without
	// counting this as a retry attempt.
	if state.IsBlocked(now) {
		blockedUntil := state.BlockedUntil
		unlock()
		requeued := entry
		requeued.EarliestFetch = blockedUntil
		return &Outcome{Requeue: &requeued}, nil
	}

	// Step 3: fetch robots.txt for this domain if not yet fetched (or
	// the cache has expired), skipping the check for robots.txt itself.
	isRobotsURL := strings.HasSuffix(entry.NormalizedURL, "/robots.txt")
	if !isRobotsURL && (!state.RobotsFetched || now.Sub(state.RobotsFetchedAt) > p.robotsTTL) {
		unlock()
		p.fetchRobots(ctx, authority, entry.NormalizedURL)
		state, unlock = p.domains.GetOrCreate(authority, p.policy())
	}

	// Step 4: consult robots.
	if !isRobotsURL && p.cfg.RespectRobotsTxt && state.Robots != nil {
		rules := state.Robots
		if !robots.Allowed(rules, pathOf(entry.NormalizedURL)) {
			unlock()
			if !p.cfg.LogSkipped {
				return &Outcome{}, nil
			}
			return &Outcome{Result: &storage.Result{
				URL: entry.NormalizedURL, SURT: entry.SURT,
				HTTPStatus: -1, ErrorType: string(errtype.RobotsDisallowed),
				CrawledAt: now,
			}}, nil
		}
	}

	// Steps 5-6: reserve a crawl-delay slot, or a parallel-cap slot.
	usedParallelSlot := false
	if state.HasCrawlDelay {
		ready, nextAvailable := state.ReserveCrawlSlot(now)
		if !ready {
			unlock()
			requeued := entry
			requeued.EarliestFetch = nextAvailable
			return &Outcome{Requeue: &requeued}, nil
		}
	} else {
		if !state.TryAcquireParallelSlot() {
			unlock()
			requeued := entry
			requeued.EarliestFetch = now.Add(50 * time.Millisecond)
			return &Outcome{Requeue: &requeued}, nil
		}
		usedParallelSlot = true
	}
	unlock()

	// Domains without an explicit crawl-delay are still capped by
	// max_parallel_per_domain, but that cap alone lets every domain's
	// cap-sized burst land in the same instant. The global limiter smooths
	// that burst without imposing a per-domain delay that was never
	// requested.
	if usedParallelSlot && p.global != nil {
		if err := p.global.Wait(ctx); err != nil {
			state, unlock = p.domains.GetOrCreate(authority, p.policy())
			state.ReleaseParallelSlot()
			unlock()
			return &Outcome{Result: &storage.Result{
				URL: entry.NormalizedURL, SURT: entry.SURT,
				ErrorMessage: err.Error(), ErrorType: string(errtype.Interrupted),
				CrawledAt: now,
			}}, nil
		}
	}

	// Step 7: call the transport collaborator with no lock held.
	resp := p.transport.Fetch(ctx, entry.NormalizedURL)

	state, unlock = p.domains.GetOrCreate(authority, p.policy())
	if usedParallelSlot {
		state.ReleaseParallelSlot()
	}

	transportErr := ""
	if resp.Err != nil {
		transportErr = resp.Err.Error()
	}
	outcome, errType := errtype.Classify(resp.StatusCode, transportErr)

	switch outcome {
	case errtype.Success:
		state.RecordSuccess(now)
		state.UpdateEMA(resp.Elapsed)
		unlock()
		return p.buildSuccessOutcome(entry, resp, now), nil

	case errtype.Retryable:
		state.ConsecutiveErrors++
		backoffDur := backoff.Compute(resp.Headers.Get("Retry-After"), state.ConsecutiveErrors, p.cfg.MaxRetryBackoffSecs, now)
		state.BlockedUntil = now.Add(backoffDur)
		blockedUntil := state.BlockedUntil
		unlock()

		if entry.RetryCount >= backoff.MaxRetries {
			return &Outcome{Result: &storage.Result{
				URL: entry.NormalizedURL, SURT: entry.SURT, FinalURL: resp.FinalURL,
				HTTPStatus: resp.StatusCode, ErrorMessage: transportErr, ErrorType: string(errType),
				CrawledAt: now,
			}}, nil
		}

		requeued := entry
		requeued.RetryCount++
		requeued.EarliestFetch = blockedUntil
		return &Outcome{Requeue: &requeued}, nil

	default: // Permanent
		unlock()
		return p.buildPermanentOutcome(entry, resp, errType, transportErr, now), nil
	}
}

// fetchRobots fetches and caches robots.txt for a domain. Fetch failures
// leave the domain under the default (allow-all) policy.
func (p *Pipeline) fetchRobots(ctx context.Context, authority, sampleURL string) {
	scheme := schemeOf(sampleURL)
	resp := p.transport.Fetch(ctx, scheme+"://"+authority+"/robots.txt")

	state, unlock := p.domains.GetOrCreate(authority, p.policy())
	defer unlock()

	var doc *robots.Document
	if resp.Err == nil && resp.StatusCode == 200 {
		doc = robots.Parse(resp.Body)
	} else {
		doc = &robots.Document{}
	}

	rules := doc.Select(p.cfg.UserAgent)
	hasDelay := robots.HasExplicitDelay(rules)
	effective := robots.EffectiveDelaySeconds(rules,
		p.cfg.MinCrawlDelay.Seconds(), p.cfg.MaxCrawlDelay.Seconds(), p.cfg.DefaultCrawlDelay.Seconds())

	state.SetRobots(rules, hasDelay, time.Duration(effective*float64(time.Second)))
	state.RobotsFetched = true
	state.RobotsFetchedAt = time.Now()
}

func (p *Pipeline) buildSuccessOutcome(entry urlqueue.Entry, resp *transport.Response, now time.Time) *Outcome {
	crawledAt := resolveCrawledAt(resp.ServerDate, now)

	if int64(len(resp.Body)) > p.cfg.MaxResponseBytes && p.cfg.MaxResponseBytes > 0 {
		return &Outcome{Result: &storage.Result{
			URL: entry.NormalizedURL, SURT: entry.SURT, FinalURL: resp.FinalURL,
			RedirectCount: resp.RedirectCount, HTTPStatus: resp.StatusCode,
			ContentType: resp.ContentType, ElapsedMs: resp.Elapsed.Milliseconds(),
			CrawledAt: crawledAt, ErrorType: string(errtype.ContentTooLarge),
		}}
	}

	if !contentTypeAccepted(resp.ContentType, p.cfg.AcceptContentTypes, p.cfg.RejectContentTypes) {
		return &Outcome{Result: &storage.Result{
			URL: entry.NormalizedURL, SURT: entry.SURT, FinalURL: resp.FinalURL,
			RedirectCount: resp.RedirectCount, HTTPStatus: resp.StatusCode,
			ContentType: resp.ContentType, ElapsedMs: resp.Elapsed.Milliseconds(),
			CrawledAt: crawledAt, ErrorType: string(errtype.ContentTypeRejected),
		}}
	}

	result := &storage.Result{
		URL: entry.NormalizedURL, SURT: entry.SURT, FinalURL: resp.FinalURL,
		RedirectCount: resp.RedirectCount, HTTPStatus: resp.StatusCode, Body: resp.Body,
		ContentType: resp.ContentType, ElapsedMs: resp.Elapsed.Milliseconds(),
		CrawledAt: crawledAt, ErrorType: string(errtype.None),
		ETag: resp.ETag, LastModified: resp.LastModified,
	}

	var links []extractor.Link
	if isHTML(resp.ContentType) && p.extractor != nil {
		if extracted, err := p.extractor.Extract(resp.Body, resp.FinalURL); err == nil {
			result.Title = extracted.Title
			result.Headings = extracted.Headings
			result.NoIndex = extracted.NoIndex
			result.NoFollow = extracted.NoFollow
			links = extracted.Links
		}
	}

	return &Outcome{Result: result, Links: links}
}

func (p *Pipeline) buildPermanentOutcome(entry urlqueue.Entry, resp *transport.Response, errType errtype.Type, transportErr string, now time.Time) *Outcome {
	return &Outcome{Result: &storage.Result{
		URL: entry.NormalizedURL, SURT: entry.SURT, FinalURL: resp.FinalURL,
		RedirectCount: resp.RedirectCount, HTTPStatus: resp.StatusCode,
		ContentType: resp.ContentType, ElapsedMs: resp.Elapsed.Milliseconds(),
		CrawledAt: now, ErrorMessage: transportErr, ErrorType: string(errType),
	}}
}

// resolveCrawledAt uses the server Date header if it parses and is
// within 15 minutes of the local clock, else the local clock.
func resolveCrawledAt(serverDate string, now time.Time) time.Time {
	if serverDate == "" {
		return now
	}
	t, err := time.Parse(time.RFC1123, serverDate)
	if err != nil {
		return now
	}
	if d := t.Sub(now); d > -15*time.Minute && d < 15*time.Minute {
		return t
	}
	return now
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "text/html") ||
		strings.HasPrefix(strings.ToLower(contentType), "application/xhtml")
}

// contentTypeAccepted applies the accept whitelist (if any) then the
// reject blacklist, supporting "type/*" wildcard patterns.
func contentTypeAccepted(contentType string, accept, reject []string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	if len(accept) > 0 {
		matched := false
		for _, pattern := range accept {
			if matchContentType(base, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, pattern := range reject {
		if matchContentType(base, pattern) {
			return false
		}
	}

	return true
}

func matchContentType(contentType, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(contentType, strings.TrimSuffix(pattern, "*"))
	}
	return contentType == pattern
}

func authorityOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
