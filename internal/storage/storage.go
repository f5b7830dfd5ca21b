// Package storage is the host store: a single-writer batched persistence
// layer over PostgreSQL, built around pgxpool connection pooling and an
// ON CONFLICT upsert pattern against the crawl_results and sitemap_cache
// tables.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/seo-platform/crawler/internal/sitemapxml"
)

// Store is the pgx-backed host store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Result is one crawl outcome row.
type Result struct {
	URL          string
	SURT         string
	FinalURL     string
	RedirectCount int
	HTTPStatus   int
	Body         []byte
	ContentType  string
	ElapsedMs    int64
	CrawledAt    time.Time
	ErrorMessage string
	ErrorType    string
	ETag         string
	LastModified string
	ContentHash  string
	Title        string
	Headings     map[string][]string
	NoIndex      bool
	NoFollow     bool
}

// New opens a connection pool against connString.
func New(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("storage: parse connection string: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	logger.Info("connected to postgres host store")
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Schema is executed once at startup to ensure the crawl_results and
// sitemap_cache tables exist.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_results (
	url            TEXT PRIMARY KEY,
	surt           TEXT NOT NULL,
	final_url      TEXT NOT NULL,
	redirect_count INT NOT NULL DEFAULT 0,
	http_status    INT NOT NULL,
	body           BYTEA,
	content_type   TEXT,
	elapsed_ms     BIGINT NOT NULL DEFAULT 0,
	crawled_at     TIMESTAMPTZ NOT NULL,
	error_message  TEXT,
	error_type     TEXT NOT NULL DEFAULT 'NONE',
	etag           TEXT,
	last_modified  TEXT,
	content_hash   TEXT,
	title          TEXT,
	noindex        BOOLEAN NOT NULL DEFAULT false,
	nofollow       BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS crawl_results_surt_idx ON crawl_results (surt);

CREATE TABLE IF NOT EXISTS sitemap_cache (
	hostname      TEXT NOT NULL,
	url           TEXT NOT NULL,
	lastmod       TEXT,
	changefreq    TEXT,
	priority      TEXT,
	discovered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (hostname, url)
);
`

// EnsureSchema creates the host-store tables if they don't already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// UpsertBatch performs a batched INSERT/MERGE in one transaction: each
// row is inserted or, on conflict by URL, updated in place, one statement
// per row in slice order. Deduplication within the batch (later record
// for the same URL wins) is done by the caller (internal/batch) before
// the batch reaches this method.
func (s *Store) UpsertBatch(ctx context.Context, results []Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO crawl_results (
			url, surt, final_url, redirect_count, http_status, body, content_type,
			elapsed_ms, crawled_at, error_message, error_type, etag, last_modified,
			content_hash, title, noindex, nofollow
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (url) DO UPDATE SET
			surt = EXCLUDED.surt,
			final_url = EXCLUDED.final_url,
			redirect_count = EXCLUDED.redirect_count,
			http_status = EXCLUDED.http_status,
			body = EXCLUDED.body,
			content_type = EXCLUDED.content_type,
			elapsed_ms = EXCLUDED.elapsed_ms,
			crawled_at = EXCLUDED.crawled_at,
			error_message = EXCLUDED.error_message,
			error_type = EXCLUDED.error_type,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			content_hash = EXCLUDED.content_hash,
			title = EXCLUDED.title,
			noindex = EXCLUDED.noindex,
			nofollow = EXCLUDED.nofollow
	`

	var affected int64
	for _, r := range results {
		tag, err := tx.Exec(ctx, upsert,
			r.URL, r.SURT, r.FinalURL, r.RedirectCount, r.HTTPStatus, r.Body, r.ContentType,
			r.ElapsedMs, r.CrawledAt, r.ErrorMessage, r.ErrorType, r.ETag, r.LastModified,
			r.ContentHash, r.Title, r.NoIndex, r.NoFollow,
		)
		if err != nil {
			return 0, fmt.Errorf("storage: upsert %s: %w", r.URL, err)
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit tx: %w", err)
	}
	return affected, nil
}

// ExistingCrawledAt returns the crawled_at timestamp for a URL, if a row
// already exists, for the staleness evaluator.
func (s *Store) ExistingCrawledAt(ctx context.Context, url string) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT crawled_at FROM crawl_results WHERE url = $1`, url).Scan(&t)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return t, true, nil
}

// CachedSitemapURLs returns sitemap_cache rows for hostname discovered
// after the cache horizon (now - cacheHours).
func (s *Store) CachedSitemapURLs(ctx context.Context, hostname string, cacheHours int, now time.Time) ([]sitemapxml.URL, bool, error) {
	horizon := now.Add(-time.Duration(cacheHours) * time.Hour)

	rows, err := s.pool.Query(ctx,
		`SELECT url, lastmod, changefreq, priority FROM sitemap_cache WHERE hostname = $1 AND discovered_at > $2`,
		hostname, horizon)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var urls []sitemapxml.URL
	for rows.Next() {
		var u sitemapxml.URL
		if err := rows.Scan(&u.Loc, &u.LastMod, &u.ChangeFreq, &u.Priority); err != nil {
			return nil, false, err
		}
		urls = append(urls, u)
	}
	return urls, len(urls) > 0, rows.Err()
}

// PersistSitemapCache replaces the cached rows for hostname with urls,
// all stamped discoveredAt.
func (s *Store) PersistSitemapCache(ctx context.Context, hostname string, urls []sitemapxml.URL, discoveredAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sitemap_cache WHERE hostname = $1`, hostname); err != nil {
		return err
	}

	const insert = `
		INSERT INTO sitemap_cache (hostname, url, lastmod, changefreq, priority, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hostname, url) DO UPDATE SET
			lastmod = EXCLUDED.lastmod,
			changefreq = EXCLUDED.changefreq,
			priority = EXCLUDED.priority,
			discovered_at = EXCLUDED.discovered_at
	`
	for _, u := range urls {
		if _, err := tx.Exec(ctx, insert, hostname, u.Loc, u.LastMod, u.ChangeFreq, u.Priority, discoveredAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
