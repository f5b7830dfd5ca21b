// Package crawl wires the full pipeline — domain state, dedup, URL
// queue, sitemap discovery, the fetch pipeline and the worker pool —
// into a single entry point, exposed as a reusable function rather than
// a main-only concern so cmd/crawld can drive it from an HTTP handler as
// well as a one-shot CLI run.
package crawl

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/seo-platform/crawler/internal/batch"
	"github.com/seo-platform/crawler/internal/config"
	"github.com/seo-platform/crawler/internal/dedup"
	"github.com/seo-platform/crawler/internal/domainstate"
	"github.com/seo-platform/crawler/internal/extractor"
	"github.com/seo-platform/crawler/internal/fetch"
	"github.com/seo-platform/crawler/internal/lifecycle"
	"github.com/seo-platform/crawler/internal/progress"
	"github.com/seo-platform/crawler/internal/sitemapdisco"
	"github.com/seo-platform/crawler/internal/sitemapxml"
	"github.com/seo-platform/crawler/internal/staleness"
	"github.com/seo-platform/crawler/internal/storage"
	"github.com/seo-platform/crawler/internal/transport"
	"github.com/seo-platform/crawler/internal/urlnorm"
	"github.com/seo-platform/crawler/internal/urlqueue"
	"github.com/seo-platform/crawler/internal/worker"
)

// idleDrainRounds is how many consecutive empty-queue polls the drain
// watcher waits for before concluding the crawl has nothing left to
// produce. Needed because link-following crawls have no a priori total:
// the queue can look momentarily empty between a worker finishing a
// fetch and pushing the links it discovered.
const idleDrainRounds = 3

// idleDrainPoll is the watcher's polling interval, also the cadence of the
// periodic batch flush so a crash or store outage mid-crawl loses at most
// one poll interval's worth of buffered rows rather than the entire run.
const idleDrainPoll = 500 * time.Millisecond

// Run drives one crawl to completion: it seeds the queue, discovers
// sitemaps for each seed's host, runs the worker pool until the queue
// drains or a shutdown is requested, and flushes whatever remains
// batched. It returns the final progress snapshot.
func Run(ctx context.Context, seeds []string, cfg config.Config, store *storage.Store, lc *lifecycle.Controller, logger *zap.Logger) (progress.Snapshot, error) {
	domains := domainstate.New()
	tr := transport.New(transport.Config{
		Timeout: cfg.Timeout, UserAgent: cfg.UserAgent, FollowRedirects: true, MaxRedirects: 10,
		MaxBytes: cfg.MaxResponseBytes,
	})
	ex := extractor.New()
	queue := urlqueue.New()
	seen := dedup.New(uint(cfg.MaxCrawlPages*4), 0.01, logger)
	batcher := batch.New(store)

	total := int64(0)
	if !cfg.FollowLinks && cfg.MaxCrawlPages > 0 {
		total = int64(cfg.MaxCrawlPages)
	}
	pr := progress.New(total, 250*time.Millisecond, func(s progress.Snapshot) {
		logger.Info("crawl progress",
			zap.Int64("completed", s.Completed), zap.Int64("failed", s.Failed),
			zap.Int64("skipped", s.Skipped), zap.Float64("percentage", s.Percentage))
	})

	disco := sitemapdisco.New(tr,
		func(ctx context.Context, hostname string) ([]sitemapxml.URL, bool, error) {
			return store.CachedSitemapURLs(ctx, hostname, cfg.SitemapCacheHours, time.Now())
		},
		store.PersistSitemapCache,
		cfg.SitemapCacheHours, logger)

	pipeline := fetch.New(fetch.Config{
		UserAgent:            cfg.UserAgent,
		RespectRobotsTxt:     cfg.RespectRobotsTxt,
		LogSkipped:           cfg.LogSkipped,
		MaxParallelPerDomain: cfg.MaxParallelPerDomain,
		MinCrawlDelay:        cfg.MinCrawlDelay,
		MaxCrawlDelay:        cfg.MaxCrawlDelay,
		DefaultCrawlDelay:    cfg.DefaultCrawlDelay,
		MaxRetryBackoffSecs:  int(cfg.MaxRetryBackoff.Seconds()),
		MaxResponseBytes:     cfg.MaxResponseBytes,
		AcceptContentTypes:   cfg.AcceptContentTypes,
		RejectContentTypes:   cfg.RejectContentTypes,
	}, tr, ex, domains)

	onLinks := func(parent urlqueue.Entry, links []extractor.Link) {
		enqueueLinks(queue, seen, cfg, parent, links)
	}

	pool := worker.New(cfg.Threads, cfg.MaxTotalConnections, queue, pipeline, lc, pr, batcher, onLinks, logger)

	seedDomains := make(map[string]bool)
	for _, raw := range seeds {
		enqueueSeed(queue, seen, cfg, raw, logger)
		if authority, err := urlnorm.Authority(raw); err == nil {
			seedDomains[authority] = true
		}
	}

	discoverSitemapsForHosts(ctx, disco, store, queue, seen, cfg, seedDomains, logger)

	pool.Run(ctx)
	watchDone := make(chan struct{})
	flushErr := make(chan error, 1)
	go drainWatcher(ctx, queue, batcher, lc, watchDone, flushErr, logger)

	pool.Wait()
	close(watchDone)

	if _, err := batcher.FlushPending(ctx); err != nil {
		logger.Error("final batch flush failed", zap.Error(err))
		return pr.Snapshot(), err
	}

	select {
	case err := <-flushErr:
		return pr.Snapshot(), err
	default:
		return pr.Snapshot(), nil
	}
}

// drainWatcher shuts the queue down once it looks permanently idle
// (several consecutive empty polls) or the lifecycle controller reports
// an interrupt, so pool.Wait() in Run can return. On every poll it also
// drains whatever rows the worker pool has buffered so far to the host
// store (spec.md's single-writer "periodically drains pending into
// batches" cadence), rather than only at the very end of the crawl. A
// store failure here aborts the crawl: it signals lifecycle's graceful
// shutdown (workers finish in flight, the queue stops accepting new
// work) and reports the error back to Run over flushErr.
func drainWatcher(ctx context.Context, queue *urlqueue.Queue, batcher *batch.Batcher, lc *lifecycle.Controller,
	done <-chan struct{}, flushErr chan<- error, logger *zap.Logger) {

	idle := 0
	ticker := time.NewTicker(idleDrainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := batcher.FlushPending(ctx); err != nil {
				logger.Error("periodic batch flush failed", zap.Error(err))
				flushErr <- err
				lc.Signal()
				queue.Shutdown()
				return
			}

			if lc.Interrupted() {
				queue.Shutdown()
				return
			}
			if queue.Empty() {
				idle++
			} else {
				idle = 0
			}
			if idle >= idleDrainRounds {
				queue.Shutdown()
				return
			}
		}
	}
}

func enqueueSeed(queue *urlqueue.Queue, seen *dedup.Filter, cfg config.Config, raw string, logger *zap.Logger) {
	norm, err := urlnorm.Normalize(raw, cfg.TrackingParamsStripped)
	if err != nil {
		logger.Warn("failed to normalize seed URL", zap.String("url", raw), zap.Error(err))
		return
	}
	surt, err := urlnorm.SURT(norm)
	if err != nil {
		logger.Warn("failed to compute SURT for seed URL", zap.String("url", raw), zap.Error(err))
		return
	}
	if seen.SeenOrMark(surt) {
		return
	}
	queue.Push(urlqueue.Entry{
		NormalizedURL: norm, SURT: surt, Source: urlqueue.SourceSeed, EarliestFetch: time.Now(),
	})
}

// enqueueLinks applies the link-following policy (nofollow, subdomain,
// depth) to newly discovered links and pushes the survivors. Links to
// other sites are never followed; links to a different subdomain than
// the parent's are followed only when AllowSubdomains is set.
func enqueueLinks(queue *urlqueue.Queue, seen *dedup.Filter, cfg config.Config, parent urlqueue.Entry, links []extractor.Link) {
	if !cfg.FollowLinks {
		return
	}
	if parent.Depth+1 > cfg.MaxCrawlDepth {
		return
	}

	for _, link := range links {
		if cfg.RespectNofollow && link.NoFollow {
			continue
		}
		if link.External {
			continue
		}
		if !cfg.AllowSubdomains {
			linkHost, err1 := urlnorm.Authority(link.URL)
			parentHost, err2 := urlnorm.Authority(parent.NormalizedURL)
			if err1 != nil || err2 != nil || linkHost != parentHost {
				continue
			}
		}

		norm, err := urlnorm.Normalize(link.URL, cfg.TrackingParamsStripped)
		if err != nil {
			continue
		}
		surt, err := urlnorm.SURT(norm)
		if err != nil {
			continue
		}
		if seen.SeenOrMark(surt) {
			continue
		}

		queue.Push(urlqueue.Entry{
			NormalizedURL: norm, SURT: surt, Source: urlqueue.SourceLink,
			EarliestFetch: time.Now(), Depth: parent.Depth + 1,
		})
	}
}

// discoverSitemapsForHosts runs sitemap discovery for every seed host in
// parallel, bounded by the global connection cap, rather than awaiting one
// host's full discovery (robots fetch, bruteforce probing, recursive
// sitemap-index expansion) before starting the next.
func discoverSitemapsForHosts(ctx context.Context, disco *sitemapdisco.Discoverer, store *storage.Store,
	queue *urlqueue.Queue, seen *dedup.Filter, cfg config.Config, seedDomains map[string]bool, logger *zap.Logger) {

	sem := semaphore.NewWeighted(int64(maxInt(cfg.MaxTotalConnections, 1)))
	var wg sync.WaitGroup

	for authority := range seedDomains {
		authority := authority
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			discoverAndEnqueueSitemap(ctx, disco, store, queue, seen, cfg, authority, logger)
		}()
	}

	wg.Wait()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// discoverAndEnqueueSitemap runs sitemap discovery for a seed's host and
// enqueues NEW entries always, STALE entries only when cfg.UpdateStale is
// set, in NEW-before-STALE order.
func discoverAndEnqueueSitemap(ctx context.Context, disco *sitemapdisco.Discoverer, store *storage.Store,
	queue *urlqueue.Queue, seen *dedup.Filter, cfg config.Config, authority string, logger *zap.Logger) {

	urls, err := disco.Discover(ctx, "https", authority)
	if err != nil {
		logger.Warn("sitemap discovery failed", zap.String("authority", authority), zap.Error(err))
		return
	}
	if len(urls) == 0 {
		return
	}

	now := time.Now()
	type normalized struct {
		loc    string
		decide staleness.Decision
	}
	var candidates []normalized

	for _, u := range urls {
		norm, err := urlnorm.Normalize(u.Loc, cfg.TrackingParamsStripped)
		if err != nil {
			continue
		}
		if !matchesURLFilter(norm, cfg.URLFilter) {
			continue
		}

		existingCrawledAt, hasExisting, err := store.ExistingCrawledAt(ctx, norm)
		if err != nil {
			logger.Warn("existing crawled_at lookup failed", zap.String("url", norm), zap.Error(err))
			continue
		}

		lastMod, hasLastMod := parseLastMod(u.LastMod)
		decision := staleness.Evaluate(existingCrawledAt, hasExisting, lastMod, hasLastMod, u.ChangeFreq, now)
		if decision == staleness.Stale && !cfg.UpdateStale {
			continue
		}
		candidates = append(candidates, normalized{loc: norm, decide: decision})
	}

	entries := make([]staleness.Entry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, staleness.Entry{Loc: c.loc, Decision: c.decide})
	}
	ordered := staleness.Order(entries)

	for _, e := range ordered {
		surt, err := urlnorm.SURT(e.Loc)
		if err != nil {
			continue
		}
		if seen.SeenOrMark(surt) {
			continue
		}
		queue.Push(urlqueue.Entry{
			NormalizedURL: e.Loc, SURT: surt, Source: urlqueue.SourceSitemap,
			EarliestFetch: now, IsUpdate: e.Decision == staleness.Stale,
		})
	}
}

func parseLastMod(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// matchesURLFilter reports whether url satisfies the config's url_filter
// SQL LIKE pattern (`%` = any run of characters, `_` = any single
// character). An empty pattern matches everything.
func matchesURLFilter(url, pattern string) bool {
	if pattern == "" {
		return true
	}
	return likeToRegexp(pattern).MatchString(url)
}

// likeToRegexp compiles a SQL LIKE pattern into an anchored, case-sensitive
// regexp, escaping every regexp metacharacter in the pattern's literal runs
// before translating `%`/`_` into their regexp equivalents.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile(regexp.QuoteMeta(pattern))
	}
	return re
}
