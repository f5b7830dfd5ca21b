// Package extractor is the extractor collaborator: feeding a successfully
// fetched HTML body through goquery to recover the SEO metadata the
// fetch pipeline attaches to a crawl result. It is a narrowed stand-in
// for the out-of-scope JSON-LD/OpenGraph/structured-data extractors,
// collapsed behind the single opaque result the fetch pipeline needs.
package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result is the opaque metadata bag attached to a crawl result. Fields
// not produced by this default implementation (JSON-LD, hydration state)
// are intentionally absent rather than zero-valued, since those
// extractors are out of scope. OpenGraph `og:*` properties appear only as
// plain MetaTags entries keyed by property name.
type Result struct {
	Title        string
	MetaTags     map[string]string
	CanonicalURL string
	Language     string
	Headings     map[string][]string
	Links        []Link
	NoIndex      bool
	NoFollow     bool
}

// Link is one <a> element discovered in the document, resolved against
// the page's base URL.
type Link struct {
	URL      string
	Text     string
	NoFollow bool
	External bool
}

// Extractor is the collaborator interface the fetch pipeline calls into
// for successfully fetched HTML bodies.
type Extractor interface {
	Extract(body []byte, baseURL string) (*Result, error)
}

// GoqueryExtractor is the default Extractor implementation.
type GoqueryExtractor struct{}

// New returns the default goquery-backed Extractor.
func New() *GoqueryExtractor {
	return &GoqueryExtractor{}
}

var headingTags = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// Extract parses body as HTML and returns the metadata the fetch
// pipeline records alongside a crawl result.
func (e *GoqueryExtractor) Extract(body []byte, baseURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	result := &Result{
		MetaTags: make(map[string]string),
		Headings: make(map[string][]string),
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	if lang, ok := doc.Find("html").Attr("lang"); ok {
		result.Language = lang
	}

	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok {
		result.CanonicalURL = canonical
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		if name, ok := s.Attr("name"); ok {
			result.MetaTags[strings.ToLower(name)] = content
			if strings.EqualFold(name, "robots") {
				applyMetaRobots(content, result)
			}
		}
		if property, ok := s.Attr("property"); ok {
			result.MetaTags[strings.ToLower(property)] = content
		}
	})

	for _, tag := range headingTags {
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" {
				result.Headings[tag] = append(result.Headings[tag], text)
			}
		})
	}

	base, err := url.Parse(baseURL)
	if err == nil {
		result.Links = extractLinks(doc, base)
	}

	return result, nil
}

// applyMetaRobots sets NoIndex/NoFollow from a `<meta name="robots">`
// content value (comma-separated directives, e.g. "noindex, nofollow").
func applyMetaRobots(content string, result *Result) {
	for _, directive := range strings.Split(content, ",") {
		switch strings.ToLower(strings.TrimSpace(directive)) {
		case "noindex":
			result.NoIndex = true
		case "nofollow":
			result.NoFollow = true
		case "none":
			result.NoIndex = true
			result.NoFollow = true
		}
	}
}

func extractLinks(doc *goquery.Document, base *url.URL) []Link {
	var links []Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "data:") || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsed)
		resolved.Fragment = ""

		rel, _ := s.Attr("rel")
		noFollow := strings.Contains(strings.ToLower(rel), "nofollow")
		external := resolved.Host != "" && resolved.Host != base.Host &&
			!strings.HasSuffix(resolved.Host, "."+base.Host)

		links = append(links, Link{
			URL:      resolved.String(),
			Text:     strings.TrimSpace(s.Text()),
			NoFollow: noFollow,
			External: external,
		})
	})

	return links
}
