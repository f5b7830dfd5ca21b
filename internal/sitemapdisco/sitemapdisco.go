// Package sitemapdisco implements the sitemap discovery workflow per
// hostname: cache lookup, robots.txt Sitemap extraction, bruteforce
// probing, and cycle-safe bounded-depth recursive expansion of
// sitemap-indexes.
package sitemapdisco

import (
	"context"
	"strings"
	"time"

	"github.com/seo-platform/crawler/internal/robots"
	"github.com/seo-platform/crawler/internal/sitemapxml"
	"github.com/seo-platform/crawler/internal/transport"
	"go.uber.org/zap"
)

// MaxDepth bounds recursive sitemap-index expansion.
const MaxDepth = 4

// CacheLookup returns cached discovered URLs for a hostname if a row set
// newer than cacheHours exists; ok is false on a cache miss.
type CacheLookup func(ctx context.Context, hostname string) (urls []sitemapxml.URL, ok bool, err error)

// CachePersist stores discovered URLs for a hostname with the discovery
// timestamp.
type CachePersist func(ctx context.Context, hostname string, urls []sitemapxml.URL, discoveredAt time.Time) error

// Discoverer runs the per-hostname sitemap discovery workflow.
type Discoverer struct {
	transport   transport.Transport
	cacheLookup CacheLookup
	cachePut    CachePersist
	cacheHours  int
	logger      *zap.Logger
}

// New builds a Discoverer. cacheLookup/cachePut may be nil to disable
// caching (every call re-discovers from scratch).
func New(t transport.Transport, cacheLookup CacheLookup, cachePut CachePersist, cacheHours int, logger *zap.Logger) *Discoverer {
	if cacheHours <= 0 {
		cacheHours = 24
	}
	return &Discoverer{transport: t, cacheLookup: cacheLookup, cachePut: cachePut, cacheHours: cacheHours, logger: logger}
}

// Discover runs the full workflow for one hostname: cache check, robots.txt
// Sitemap directives, bruteforce probing, recursive expansion, and a
// best-effort cache write of whatever was discovered.
func (d *Discoverer) Discover(ctx context.Context, scheme, hostname string) ([]sitemapxml.URL, error) {
	if d.cacheLookup != nil {
		if cached, ok, err := d.cacheLookup(ctx, hostname); err == nil && ok && len(cached) > 0 {
			return cached, nil
		}
	}

	base := normalizeScheme(scheme) + "://" + hostname
	candidates := d.robotsSitemaps(ctx, base)
	if len(candidates) == 0 {
		candidates = d.bruteforce(ctx, base)
	}

	visited := make(map[string]bool)
	var discovered []sitemapxml.URL
	for _, loc := range candidates {
		urls := d.expand(ctx, loc, 0, visited)
		discovered = append(discovered, urls...)
	}

	if d.cachePut != nil && len(discovered) > 0 {
		if err := d.cachePut(ctx, hostname, discovered, time.Now()); err != nil {
			d.logger.Warn("failed to persist sitemap cache", zap.String("hostname", hostname), zap.Error(err))
		}
	}

	return discovered, nil
}

// robotsSitemaps fetches robots.txt (bypassing the per-domain robots
// check, since robots.txt itself is always fetchable) and returns any
// Sitemap: directives found.
func (d *Discoverer) robotsSitemaps(ctx context.Context, base string) []string {
	resp := d.transport.Fetch(ctx, base+"/robots.txt")
	if resp.Err != nil || resp.StatusCode != 200 {
		return nil
	}
	doc := robots.Parse(resp.Body)
	return doc.Sitemaps
}

// bruteforce probes the fixed common sitemap paths, accepting the first
// that returns 200 with parseable XML.
func (d *Discoverer) bruteforce(ctx context.Context, base string) []string {
	for _, path := range sitemapxml.BruteforcePaths {
		candidate := base + path
		resp := d.transport.Fetch(ctx, candidate)
		if resp.Err != nil || resp.StatusCode != 200 {
			continue
		}
		if _, err := sitemapxml.Parse(resp.Body); err != nil {
			continue
		}
		return []string{candidate}
	}
	return nil
}

// expand fetches and parses loc, recursing into child sitemaps up to
// MaxDepth, skipping any location already present in visited to prevent
// cycles.
func (d *Discoverer) expand(ctx context.Context, loc string, depth int, visited map[string]bool) []sitemapxml.URL {
	if depth > MaxDepth || visited[loc] {
		return nil
	}
	visited[loc] = true

	resp := d.transport.Fetch(ctx, loc)
	if resp.Err != nil {
		d.logger.Warn("sitemap fetch failed", zap.String("url", loc), zap.Error(resp.Err))
		return nil
	}
	if resp.StatusCode != 200 {
		d.logger.Warn("sitemap fetch non-200", zap.String("url", loc), zap.Int("status", resp.StatusCode))
		return nil
	}

	result, err := sitemapxml.Parse(resp.Body)
	if err != nil {
		d.logger.Warn("sitemap parse error", zap.String("url", loc), zap.Error(err))
	}
	if result == nil {
		return nil
	}

	if !result.IsSitemapIndex {
		return result.URLs
	}

	var all []sitemapxml.URL
	for _, child := range result.ChildSitemaps {
		all = append(all, d.expand(ctx, child, depth+1, visited)...)
	}
	return all
}

// normalizeScheme defaults to https for hostnames supplied without one.
func normalizeScheme(scheme string) string {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return "https"
	}
	return scheme
}
