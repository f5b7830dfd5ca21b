package sitemapxml

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestParseURLSet(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/a</loc>
    <lastmod>2024-01-01</lastmod>
    <changefreq>daily</changefreq>
    <priority>0.8</priority>
  </url>
  <url><loc>https://example.com/b</loc></url>
</urlset>`)

	result, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsSitemapIndex {
		t.Fatalf("expected URL set, not index")
	}
	if len(result.URLs) != 2 {
		t.Fatalf("expected 2 urls, got %d", len(result.URLs))
	}
	if result.URLs[0].ChangeFreq != "daily" {
		t.Fatalf("changefreq = %q", result.URLs[0].ChangeFreq)
	}
}

func TestParseSitemapIndex(t *testing.T) {
	body := []byte(`<sitemapindex>
  <sitemap><loc>https://example.com/sitemap-a.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-b.xml</loc></sitemap>
</sitemapindex>`)

	result, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsSitemapIndex {
		t.Fatalf("expected sitemap index")
	}
	if len(result.ChildSitemaps) != 2 {
		t.Fatalf("expected 2 child sitemaps, got %d", len(result.ChildSitemaps))
	}
}

func TestParseGzipMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`<urlset><url><loc>https://example.com/z</loc></url></urlset>`))
	_ = gz.Close()

	// No .gz suffix and no headers available to this function — only the
	// magic bytes identify it.
	result, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.URLs) != 1 || result.URLs[0].Loc != "https://example.com/z" {
		t.Fatalf("result = %+v", result)
	}
}

func TestParseMalformedDoesNotPanic(t *testing.T) {
	_, err := Parse([]byte(`<urlset><url><loc>truncated`))
	if err == nil {
		t.Fatalf("expected an error for malformed xml")
	}
}

func TestRoundTripURLSet(t *testing.T) {
	original := []URL{
		{Loc: "https://example.com/x", LastMod: "2024-03-01"},
		{Loc: "https://example.com/y", LastMod: "2024-03-02"},
	}

	var body bytes.Buffer
	body.WriteString(`<urlset>`)
	for _, u := range original {
		body.WriteString(`<url><loc>` + u.Loc + `</loc><lastmod>` + u.LastMod + `</lastmod></url>`)
	}
	body.WriteString(`</urlset>`)

	result, err := Parse(body.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.URLs) != len(original) {
		t.Fatalf("expected %d urls, got %d", len(original), len(result.URLs))
	}
	for i, u := range result.URLs {
		if u.Loc != original[i].Loc || u.LastMod != original[i].LastMod {
			t.Fatalf("round-trip mismatch at %d: got %+v want %+v", i, u, original[i])
		}
	}
}

func TestParseLastMod(t *testing.T) {
	if _, ok := ParseLastMod(""); ok {
		t.Fatalf("expected empty lastmod to fail")
	}
	if t2, ok := ParseLastMod("2024-01-02"); !ok || t2.Year() != 2024 {
		t.Fatalf("expected bare date to parse")
	}
	if _, ok := ParseLastMod("2024-01-02T03:04:05Z"); !ok {
		t.Fatalf("expected RFC3339 to parse")
	}
}
