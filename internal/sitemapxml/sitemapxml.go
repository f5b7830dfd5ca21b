// Package sitemapxml parses sitemap and sitemap-index XML. Gzip is
// detected by magic bytes rather than trusting the URL suffix or an
// upstream Content-Encoding header that a bruteforce-probed sitemap URL
// may not carry, and parsing never aborts the crawl on malformed XML.
package sitemapxml

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"io"
	"strings"
	"time"
)

// URL is one <url> entry of a sitemap urlset.
type URL struct {
	Loc        string
	LastMod    string
	ChangeFreq string
	Priority   string
}

// ParseResult is the outcome of parsing one sitemap document: either a
// flat URL set, or (if the root was <sitemapindex>) a list of child
// sitemap locations to expand further.
type ParseResult struct {
	URLs           []URL
	ChildSitemaps  []string
	IsSitemapIndex bool
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc        string `xml:"loc"`
		LastMod    string `xml:"lastmod"`
		ChangeFreq string `xml:"changefreq"`
		Priority   string `xml:"priority"`
	} `xml:"url"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"sitemap"`
}

var gzipMagic = []byte{0x1f, 0x8b}

// Parse decompresses body if it looks gzip-encoded (magic bytes 1f 8b,
// regardless of URL suffix or headers) and parses the result as either a
// sitemap index or a flat URL set. On malformed XML it returns a best
// effort ParseResult (whatever decoder.Decode managed to populate before
// failing) and a non-nil error so the caller can log and continue rather
// than abort the crawl.
func Parse(body []byte) (*ParseResult, error) {
	content := body
	if len(body) >= 2 && bytes.Equal(body[:2], gzipMagic) {
		if decompressed, err := gunzip(body); err == nil {
			content = decompressed
		}
		// If gzip decoding fails, fall through and try to parse the raw
		// bytes; a non-gzip body that happens to start with those two
		// bytes is vanishingly unlikely but harmless to attempt.
	}

	if looksLikeSitemapIndex(content) {
		var idx xmlSitemapIndex
		err := xml.Unmarshal(content, &idx)
		result := &ParseResult{IsSitemapIndex: true}
		for _, sm := range idx.Sitemaps {
			loc := strings.TrimSpace(sm.Loc)
			if loc != "" {
				result.ChildSitemaps = append(result.ChildSitemaps, loc)
			}
		}
		return result, err
	}

	var set xmlURLSet
	err := xml.Unmarshal(content, &set)
	result := &ParseResult{}
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		result.URLs = append(result.URLs, URL{
			Loc:        loc,
			LastMod:    strings.TrimSpace(u.LastMod),
			ChangeFreq: strings.ToLower(strings.TrimSpace(u.ChangeFreq)),
			Priority:   strings.TrimSpace(u.Priority),
		})
	}
	return result, err
}

func looksLikeSitemapIndex(content []byte) bool {
	return bytes.Contains(content, []byte("<sitemapindex"))
}

func gunzip(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// lastModFormats are tried in order; sitemap lastmod is commonly either a
// full RFC3339 timestamp or a bare date.
var lastModFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseLastMod parses a sitemap lastmod value, trying each known format in
// turn. An empty or unparseable value returns the zero Time and false.
func ParseLastMod(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, format := range lastModFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// BruteforcePaths is the fixed list of common sitemap locations probed
// when robots.txt carries no Sitemap directive.
var BruteforcePaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap.xml.gz",
	"/sitemap/sitemap.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap1.xml",
	"/wp-sitemap.xml",
	"/sitemap/index.xml",
	"/sitemap_news.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/sitemap/",
}
