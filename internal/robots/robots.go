// Package robots hand-rolls robots.txt parsing and rule selection.
//
// Existing robots.txt libraries' TestAgent/FindGroup-style surfaces
// typically don't expose Crawl-delay, Request-rate, or multi-user-agent
// block merging. Getting the exact selection and precedence rules this
// crawler needs (longest user-agent prefix, longest-match
// Allow-over-Disallow, the stricter of Crawl-delay vs. derived
// Request-rate) means parsing the raw text directly instead.
package robots

import (
	"bufio"
	"strconv"
	"strings"
)

// Rules holds the parsed directives for a single user-agent group.
type Rules struct {
	CrawlDelay     float64 // seconds; 0 if not set
	HasCrawlDelay  bool
	RequestRate    float64 // derived seconds-per-request; 0 if not set
	HasRequestRate bool
	Allow          []string
	Disallow       []string
}

// Document is the parsed result of a robots.txt file: the per-user-agent
// rule groups plus the global Sitemap directives.
type Document struct {
	groups   map[string]*Rules
	order    []string // insertion order of group keys
	Sitemaps []string
}

// Parse parses raw robots.txt bytes into a Document. Parsing never fails:
// malformed lines and unparseable numeric values are dropped, not
// rejected, and the crawl proceeds under whatever rules were recovered.
func Parse(content []byte) *Document {
	doc := &Document{groups: make(map[string]*Rules)}

	var currentUAs []string
	sawRuleSinceUA := true // forces the first User-agent line to open a fresh block

	lines := bufio.NewScanner(strings.NewReader(string(content)))
	for lines.Scan() {
		line := stripComment(lines.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "user-agent":
			ua := strings.ToLower(strings.TrimSpace(value))
			if ua == "" {
				continue
			}
			if sawRuleSinceUA {
				currentUAs = nil
				sawRuleSinceUA = false
			}
			currentUAs = append(currentUAs, ua)
			doc.ensureGroups(currentUAs)

		case "disallow":
			path := strings.TrimSpace(value)
			doc.addRule(currentUAs, func(r *Rules) { r.Disallow = append(r.Disallow, path) })
			sawRuleSinceUA = true

		case "allow":
			path := strings.TrimSpace(value)
			doc.addRule(currentUAs, func(r *Rules) { r.Allow = append(r.Allow, path) })
			sawRuleSinceUA = true

		case "crawl-delay":
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || d < 0 {
				continue
			}
			doc.addRule(currentUAs, func(r *Rules) {
				r.CrawlDelay = d
				r.HasCrawlDelay = true
			})
			sawRuleSinceUA = true

		case "request-rate":
			secondsPerRequest, ok := parseRequestRate(value)
			if !ok {
				continue
			}
			doc.addRule(currentUAs, func(r *Rules) {
				r.RequestRate = secondsPerRequest
				r.HasRequestRate = true
			})
			sawRuleSinceUA = true

		case "sitemap":
			sm := strings.TrimSpace(value)
			if sm != "" {
				doc.Sitemaps = append(doc.Sitemaps, sm)
			}
			// Sitemap directives are global, not tied to the open block, and
			// do not close it.
		}
	}

	return doc
}

func (d *Document) ensureGroups(uas []string) {
	for _, ua := range uas {
		if _, ok := d.groups[ua]; !ok {
			d.groups[ua] = &Rules{}
			d.order = append(d.order, ua)
		}
	}
}

// addRule applies fn to every user-agent group currently open. Multiple
// consecutive User-agent lines before any rule share the same block, so a
// directive following them applies to all of them.
func (d *Document) addRule(uas []string, fn func(*Rules)) {
	if len(uas) == 0 {
		return
	}
	for _, ua := range uas {
		fn(d.groups[ua])
	}
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

func splitDirective(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+1:], true
}

// parseRequestRate parses "n/m" (n requests per m seconds) into seconds
// per request, i.e. m/n.
func parseRequestRate(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	n, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	m, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || n <= 0 {
		return 0, false
	}
	return m / n, true
}

// Select picks the rule group for a user-agent string: exact match, then
// longest prefix match against a lowercased token of the UA string, then
// "*", else an empty Rules value (allow everything, no delay).
func (d *Document) Select(userAgent string) *Rules {
	ua := strings.ToLower(userAgent)

	if r, ok := d.groups[ua]; ok {
		return r
	}

	var best *Rules
	bestLen := -1
	for token, r := range d.groups {
		if token == "*" {
			continue
		}
		if strings.HasPrefix(ua, token) && len(token) > bestLen {
			best = r
			bestLen = len(token)
		}
	}
	if best != nil {
		return best
	}

	if r, ok := d.groups["*"]; ok {
		return r
	}

	return &Rules{}
}

// Allowed decides whether path is allowed under rules: longest matching
// Allow wins over any Disallow; otherwise the longest matching Disallow
// denies; otherwise the path is allowed. Matching is prefix-based; a
// trailing "$" anchors the pattern to an exact match.
func Allowed(rules *Rules, path string) bool {
	allowLen := longestMatch(rules.Allow, path)
	disallowLen := longestMatch(rules.Disallow, path)

	if allowLen < 0 && disallowLen < 0 {
		return true
	}
	return allowLen >= disallowLen
}

// longestMatch returns the length of the longest pattern in patterns that
// matches path, or -1 if none match. An empty pattern never matches (an
// empty Disallow line means "allow all" per the robots.txt convention and
// is simply absent from the set it would otherwise deny).
func longestMatch(patterns []string, path string) int {
	best := -1
	for _, p := range patterns {
		if p == "" {
			continue
		}
		anchored := strings.HasSuffix(p, "$")
		prefix := strings.TrimSuffix(p, "$")

		if anchored {
			if path == prefix && len(prefix) > best {
				best = len(prefix)
			}
			continue
		}
		if strings.HasPrefix(path, prefix) && len(prefix) > best {
			best = len(prefix)
		}
	}
	return best
}

// EffectiveDelaySeconds computes the effective crawl delay for rules
// clamped to [min, max] and defaulted when absent, applying the
// stricter-wins rule between Crawl-delay and derived Request-rate.
func EffectiveDelaySeconds(rules *Rules, minDelay, maxDelay, defaultDelay float64) float64 {
	delay := defaultDelay
	has := false

	if rules.HasCrawlDelay {
		delay = rules.CrawlDelay
		has = true
	}
	if rules.HasRequestRate {
		if !has || rules.RequestRate > delay {
			delay = rules.RequestRate
		}
		has = true
	}

	if delay < minDelay {
		delay = minDelay
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// HasExplicitDelay reports whether robots.txt specified either Crawl-delay
// or Request-rate for the selected group — this drives the domain
// state's has_crawl_delay flag and the strict single-flight invariant.
func HasExplicitDelay(rules *Rules) bool {
	return rules.HasCrawlDelay || rules.HasRequestRate
}
