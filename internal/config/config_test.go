package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearCrawlerEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"USER_AGENT", "THREADS", "MAX_TOTAL_CONNECTIONS", "MAX_PARALLEL_PER_DOMAIN",
		"TIMEOUT_SECONDS", "DEFAULT_CRAWL_DELAY", "MIN_CRAWL_DELAY", "MAX_CRAWL_DELAY",
		"MAX_RETRY_BACKOFF_SECONDS", "RESPECT_ROBOTS_TXT", "RESPECT_NOFOLLOW", "FOLLOW_LINKS",
		"FOLLOW_CANONICAL", "ALLOW_SUBDOMAINS", "MAX_CRAWL_DEPTH", "MAX_CRAWL_PAGES",
		"MAX_RESPONSE_BYTES", "ACCEPT_CONTENT_TYPES", "REJECT_CONTENT_TYPES", "COMPRESS",
		"SITEMAP_CACHE_HOURS", "UPDATE_STALE", "URL_FILTER", "LOG_SKIPPED", "BATCH_SIZE",
		"TRACKING_PARAMS",
	}
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, time.Second, cfg.DefaultCrawlDelay)
	assert.Equal(t, 600*time.Second, cfg.MaxRetryBackoff)
	assert.True(t, cfg.RespectRobotsTxt)
}

func TestLoadRequiresUserAgent(t *testing.T) {
	clearCrawlerEnv(t)
	defer clearCrawlerEnv(t)

	_, err := Load()
	assert.Error(t, err, "expected error when USER_AGENT is unset")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearCrawlerEnv(t)
	defer clearCrawlerEnv(t)

	os.Setenv("USER_AGENT", "test-bot/1.0")
	os.Setenv("THREADS", "8")
	os.Setenv("MAX_CRAWL_DELAY", "30.5")
	os.Setenv("TRACKING_PARAMS", "ref,utm_custom*")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, time.Duration(30.5*float64(time.Second)), cfg.MaxCrawlDelay)
	require.Len(t, cfg.TrackingParamsStripped, 2)
	assert.Equal(t, "ref", cfg.TrackingParamsStripped[0])
}

func TestLoadClampsThreadsTo32(t *testing.T) {
	clearCrawlerEnv(t)
	defer clearCrawlerEnv(t)

	os.Setenv("USER_AGENT", "test-bot/1.0")
	os.Setenv("THREADS", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Threads)
}

func TestLoadRejectsMinExceedingMaxCrawlDelay(t *testing.T) {
	clearCrawlerEnv(t)
	defer clearCrawlerEnv(t)

	os.Setenv("USER_AGENT", "test-bot/1.0")
	os.Setenv("MIN_CRAWL_DELAY", "100")
	os.Setenv("MAX_CRAWL_DELAY", "10")

	_, err := Load()
	assert.Error(t, err, "expected error when min_crawl_delay exceeds max_crawl_delay")
}
