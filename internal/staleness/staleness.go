// Package staleness implements the staleness evaluator: deciding
// whether a sitemap-discovered URL needs a fresh fetch.
package staleness

import "time"

// Decision is the outcome of evaluating a URL against its existing row (if
// any) and sitemap metadata.
type Decision int

const (
	// New means there is no existing row for the URL.
	New Decision = iota
	// Stale means the existing row should be refetched.
	Stale
	// Fresh means the existing row is still current; omit from the crawl.
	Fresh
)

func (d Decision) String() string {
	switch d {
	case New:
		return "NEW"
	case Stale:
		return "STALE"
	case Fresh:
		return "FRESH"
	default:
		return "UNKNOWN"
	}
}

// changeFreqHours maps a sitemap changefreq value to its expected
// freshness window in hours. Unknown or empty values default to weekly.
var changeFreqHours = map[string]float64{
	"always":  0,
	"hourly":  1,
	"daily":   24,
	"weekly":  168,
	"monthly": 720,
	"yearly":  8760,
	"never":   87600,
}

const defaultChangeFreqHours = 168 // weekly

// HoursFor returns the freshness window in hours for a changefreq value.
func HoursFor(changeFreq string) float64 {
	if h, ok := changeFreqHours[changeFreq]; ok {
		return h
	}
	return defaultChangeFreqHours
}

// Evaluate decides NEW/STALE/FRESH for a URL. existingCrawledAt is the
// zero Time if there is no existing row. lastMod is the sitemap's lastmod
// (ok=false if absent/unparseable). now is the evaluation time.
func Evaluate(existingCrawledAt time.Time, hasExisting bool, lastMod time.Time, hasLastMod bool, changeFreq string, now time.Time) Decision {
	if !hasExisting {
		return New
	}

	if hasLastMod && lastMod.After(existingCrawledAt) {
		return Stale
	}

	age := now.Sub(existingCrawledAt)
	if age > time.Duration(HoursFor(changeFreq)*float64(time.Hour)) {
		return Stale
	}

	return Fresh
}

// Entry pairs a sitemap URL with its staleness decision, used to order
// processing: all NEW entries before any STALE entries, FRESH omitted.
type Entry struct {
	Loc      string
	Decision Decision
}

// Order returns entries filtered to NEW/STALE and ordered with all NEW
// entries first, preserving relative input order within each group.
func Order(entries []Entry) []Entry {
	var newEntries []Entry
	var staleEntries []Entry
	for _, e := range entries {
		switch e.Decision {
		case New:
			newEntries = append(newEntries, e)
		case Stale:
			staleEntries = append(staleEntries, e)
		}
	}
	return append(newEntries, staleEntries...)
}
