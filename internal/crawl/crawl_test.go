package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seo-platform/crawler/internal/config"
	"github.com/seo-platform/crawler/internal/dedup"
	"github.com/seo-platform/crawler/internal/extractor"
	"github.com/seo-platform/crawler/internal/urlqueue"
)

func TestEnqueueSeedNormalizesAndDedupes(t *testing.T) {
	queue := urlqueue.New()
	seen := dedup.New(100, 0.01, zap.NewNop())
	cfg := config.Default()
	cfg.UserAgent = "testbot"

	enqueueSeed(queue, seen, cfg, "HTTPS://Example.com:443/a//b", zap.NewNop())
	enqueueSeed(queue, seen, cfg, "https://example.com/a/b", zap.NewNop())

	assert.Equal(t, 1, queue.Len(), "expected the second, already-normalized-equivalent seed to be deduped")
}

func TestEnqueueLinksRespectsNofollowAndSubdomains(t *testing.T) {
	queue := urlqueue.New()
	seen := dedup.New(100, 0.01, zap.NewNop())
	cfg := config.Default()
	cfg.FollowLinks = true
	cfg.RespectNofollow = true
	cfg.AllowSubdomains = false
	cfg.MaxCrawlDepth = 10

	parent := urlqueue.Entry{NormalizedURL: "https://example.com/", Depth: 0}
	links := []extractor.Link{
		{URL: "https://example.com/a", NoFollow: false, External: false},
		{URL: "https://example.com/b", NoFollow: true, External: false},
		{URL: "https://other.com/c", NoFollow: false, External: true},
	}

	enqueueLinks(queue, seen, cfg, parent, links)

	require.Equal(t, 1, queue.Len(), "expected only the followable internal link to be enqueued")
	entry, ok := queue.TryPop(time.Now())
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", entry.NormalizedURL)
}

func TestEnqueueLinksStopsAtMaxDepth(t *testing.T) {
	queue := urlqueue.New()
	seen := dedup.New(100, 0.01, zap.NewNop())
	cfg := config.Default()
	cfg.FollowLinks = true
	cfg.MaxCrawlDepth = 2

	parent := urlqueue.Entry{NormalizedURL: "https://example.com/", Depth: 2}
	links := []extractor.Link{{URL: "https://example.com/too-deep"}}

	enqueueLinks(queue, seen, cfg, parent, links)

	assert.Equal(t, 0, queue.Len(), "expected depth-exceeding link to be dropped")
}

func TestEnqueueLinksNoopWhenFollowLinksDisabled(t *testing.T) {
	queue := urlqueue.New()
	seen := dedup.New(100, 0.01, zap.NewNop())
	cfg := config.Default()
	cfg.FollowLinks = false

	parent := urlqueue.Entry{NormalizedURL: "https://example.com/"}
	links := []extractor.Link{{URL: "https://example.com/a"}}

	enqueueLinks(queue, seen, cfg, parent, links)

	assert.Equal(t, 0, queue.Len(), "expected no links enqueued when FollowLinks is disabled")
}

func TestMatchesURLFilter(t *testing.T) {
	assert.True(t, matchesURLFilter("https://example.com/product/1", ""), "empty pattern matches everything")
	assert.True(t, matchesURLFilter("https://example.com/product/1", "%/product/%"))
	assert.False(t, matchesURLFilter("https://example.com/blog/1", "%/product/%"))
	assert.True(t, matchesURLFilter("https://example.com/a", "https://example.com/_"))
	assert.False(t, matchesURLFilter("https://example.com/ab", "https://example.com/_"))
}

func TestParseLastModAcceptsDateAndRFC3339(t *testing.T) {
	_, ok := parseLastMod("")
	assert.False(t, ok, "expected empty lastmod to be unparseable")

	_, ok = parseLastMod("2024-01-15")
	assert.True(t, ok, "expected a plain date to parse")

	_, ok = parseLastMod("2024-01-15T10:00:00Z")
	assert.True(t, ok, "expected RFC3339 to parse")

	_, ok = parseLastMod("not-a-date")
	assert.False(t, ok, "expected garbage to be unparseable")
}
