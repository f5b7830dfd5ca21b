// Package urlnorm implements URL normalization and the SURT transform used
// to key queue entries, domain state and the sitemap cache.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// defaultTrackingParams is the built-in tracking-parameter strip list;
// callers may extend it via Normalize's trackingParams argument.
var defaultTrackingParams = []string{"fbclid", "gclid", "msclkid", "mc_eid"}

// Normalize lowercases the scheme and host, strips default ports,
// collapses duplicate path slashes, percent-decodes unreserved characters,
// sorts query parameters alphabetically and strips tracking parameters
// (the built-ins plus any caller-supplied extras, e.g. "utm_*" patterns
// supplied as exact prefixes). It is a fixed point: normalizing an
// already-normalized URL returns it unchanged.
func Normalize(raw string, extraTracking []string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Host)
	escaped := collapseSlashes(decodeUnreserved(u.EscapedPath()))
	if escaped == "" {
		escaped = "/"
	}
	if u.Path, err = url.PathUnescape(escaped); err != nil {
		return "", err
	}
	u.RawPath = escaped
	u.Fragment = ""
	u.RawQuery = normalizeQuery(u.RawQuery, extraTracking)

	return u.String(), nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 {
		port := host[i+1:]
		scheme := host[:i]
		if port == "80" || port == "443" {
			return scheme
		}
	}
	return host
}

func collapseSlashes(path string) string {
	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeUnreserved percent-decodes octets that map to RFC 3986 unreserved
// characters (ALPHA / DIGIT / "-" / "." / "_" / "~"), leaving reserved and
// already-meaningful escapes (like %2F) intact.
func decodeUnreserved(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) {
			if c, ok := hexByte(path[i+1], path[i+2]); ok && isUnreserved(c) {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexVal(hi)
	l, ok2 := hexVal(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

func normalizeQuery(raw string, extraTracking []string) string {
	if raw == "" {
		return ""
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}

	for k := range values {
		if isTrackingParam(k, extraTracking) {
			delete(values, k)
		}
	}

	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func isTrackingParam(key string, extra []string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	for _, p := range defaultTrackingParams {
		if lower == p {
			return true
		}
	}
	for _, p := range extra {
		p = strings.ToLower(p)
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(lower, strings.TrimSuffix(p, "*")) {
				return true
			}
		} else if lower == p {
			return true
		}
	}
	return false
}

// SURT produces the Sort-friendly URL Reordering Transform key for a
// normalized URL: the host labels reversed and comma-joined, followed by
// ")/" and the path+query, e.g. "com,example,www)/path?query".
func SURT(normalized string) (string, error) {
	u, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}

	host := u.Hostname()
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}

	key := strings.Join(labels, ",") + ")" + u.Path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key, nil
}

// Authority returns the normalized host[:port] portion of a URL, the unit
// of politeness used to key domain state.
func Authority(rawOrNormalized string) (string, error) {
	u, err := url.Parse(rawOrNormalized)
	if err != nil {
		return "", err
	}
	return normalizeHost(u.Host), nil
}
