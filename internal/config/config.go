// Package config loads the crawler's configuration surface from
// environment variables into a typed, validated Config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration surface recognized by the crawler.
type Config struct {
	UserAgent              string
	Threads                int
	MaxTotalConnections    int
	MaxParallelPerDomain   int
	Timeout                time.Duration
	DefaultCrawlDelay      time.Duration
	MinCrawlDelay          time.Duration
	MaxCrawlDelay          time.Duration
	MaxRetryBackoff        time.Duration
	RespectRobotsTxt       bool
	RespectNofollow        bool
	FollowLinks            bool
	FollowCanonical        bool
	AllowSubdomains        bool
	MaxCrawlDepth          int
	MaxCrawlPages          int
	MaxResponseBytes       int64
	AcceptContentTypes     []string
	RejectContentTypes     []string
	Compress               bool
	SitemapCacheHours      int
	UpdateStale            bool
	URLFilter              string
	LogSkipped             bool
	BatchSize              int
	TrackingParamsStripped []string
}

// Default returns the configuration surface with every recognized
// option's default applied.
func Default() Config {
	return Config{
		UserAgent:            "",
		Threads:              4,
		MaxTotalConnections:  16,
		MaxParallelPerDomain: 4,
		Timeout:              30 * time.Second,
		DefaultCrawlDelay:    time.Second,
		MinCrawlDelay:        0,
		MaxCrawlDelay:        60 * time.Second,
		MaxRetryBackoff:      600 * time.Second,
		RespectRobotsTxt:     true,
		RespectNofollow:      true,
		FollowLinks:          true,
		FollowCanonical:      false,
		AllowSubdomains:      false,
		MaxCrawlDepth:        10,
		MaxCrawlPages:        1000,
		MaxResponseBytes:     10 * 1024 * 1024,
		Compress:             true,
		SitemapCacheHours:    24,
		UpdateStale:          false,
		URLFilter:            "",
		LogSkipped:           true,
		BatchSize:            100,
	}
}

// Load reads the configuration surface from the environment, loading a
// .env file first if present (godotenv.Load's error is intentionally
// ignored: it is a no-op error when the file is simply absent).
// UserAgent is the only required field.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.UserAgent = getEnv("USER_AGENT", "")
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("config: user_agent is required")
	}

	cfg.Threads = clamp(getEnvInt("THREADS", cfg.Threads), 1, 32)
	cfg.MaxTotalConnections = getEnvInt("MAX_TOTAL_CONNECTIONS", cfg.MaxTotalConnections)
	cfg.MaxParallelPerDomain = getEnvInt("MAX_PARALLEL_PER_DOMAIN", cfg.MaxParallelPerDomain)
	cfg.Timeout = getEnvSeconds("TIMEOUT_SECONDS", cfg.Timeout)
	cfg.DefaultCrawlDelay = getEnvFloatSeconds("DEFAULT_CRAWL_DELAY", cfg.DefaultCrawlDelay)
	cfg.MinCrawlDelay = getEnvFloatSeconds("MIN_CRAWL_DELAY", cfg.MinCrawlDelay)
	cfg.MaxCrawlDelay = getEnvFloatSeconds("MAX_CRAWL_DELAY", cfg.MaxCrawlDelay)
	cfg.MaxRetryBackoff = getEnvSeconds("MAX_RETRY_BACKOFF_SECONDS", cfg.MaxRetryBackoff)
	cfg.RespectRobotsTxt = getEnvBool("RESPECT_ROBOTS_TXT", cfg.RespectRobotsTxt)
	cfg.RespectNofollow = getEnvBool("RESPECT_NOFOLLOW", cfg.RespectNofollow)
	cfg.FollowLinks = getEnvBool("FOLLOW_LINKS", cfg.FollowLinks)
	cfg.FollowCanonical = getEnvBool("FOLLOW_CANONICAL", cfg.FollowCanonical)
	cfg.AllowSubdomains = getEnvBool("ALLOW_SUBDOMAINS", cfg.AllowSubdomains)
	cfg.MaxCrawlDepth = getEnvInt("MAX_CRAWL_DEPTH", cfg.MaxCrawlDepth)
	cfg.MaxCrawlPages = getEnvInt("MAX_CRAWL_PAGES", cfg.MaxCrawlPages)
	cfg.MaxResponseBytes = int64(getEnvInt("MAX_RESPONSE_BYTES", int(cfg.MaxResponseBytes)))
	cfg.AcceptContentTypes = splitCSV(getEnv("ACCEPT_CONTENT_TYPES", ""))
	cfg.RejectContentTypes = splitCSV(getEnv("REJECT_CONTENT_TYPES", ""))
	cfg.Compress = getEnvBool("COMPRESS", cfg.Compress)
	cfg.SitemapCacheHours = getEnvInt("SITEMAP_CACHE_HOURS", cfg.SitemapCacheHours)
	cfg.UpdateStale = getEnvBool("UPDATE_STALE", cfg.UpdateStale)
	cfg.URLFilter = getEnv("URL_FILTER", cfg.URLFilter)
	cfg.LogSkipped = getEnvBool("LOG_SKIPPED", cfg.LogSkipped)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.TrackingParamsStripped = splitCSV(getEnv("TRACKING_PARAMS", "utm_*,fbclid,gclid"))

	if cfg.MinCrawlDelay > cfg.MaxCrawlDelay {
		return nil, fmt.Errorf("config: min_crawl_delay (%s) exceeds max_crawl_delay (%s)", cfg.MinCrawlDelay, cfg.MaxCrawlDelay)
	}

	return &cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return time.Duration(n) * time.Second
}

func getEnvFloatSeconds(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(f * float64(time.Second))
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
