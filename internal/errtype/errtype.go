// Package errtype classifies fetch outcomes into the error taxonomy
// persisted alongside each crawl result.
package errtype

// Type is the error_type column written to the host store.
type Type string

const (
	None                Type = "NONE"
	NetworkTimeout      Type = "NETWORK_TIMEOUT"
	NetworkDNS          Type = "NETWORK_DNS"
	NetworkConnection   Type = "NETWORK_CONNECTION"
	NetworkTLS          Type = "NETWORK_TLS"
	HTTPClient4xx       Type = "HTTP_CLIENT_4XX"
	HTTPServer5xx       Type = "HTTP_SERVER_5XX"
	HTTPRateLimited     Type = "HTTP_RATE_LIMITED"
	RobotsDisallowed    Type = "ROBOTS_DISALLOWED"
	ContentTooLarge     Type = "CONTENT_TOO_LARGE"
	ContentTypeRejected Type = "CONTENT_TYPE_REJECTED"
	RedirectLoop        Type = "REDIRECT_LOOP"
	ParseError          Type = "PARSE_ERROR"
	Interrupted         Type = "INTERRUPTED"
)

// Outcome classifies how a fetch attempt should be handled by the
// retry/backoff engine.
type Outcome int

const (
	// Success covers 2xx, 3xx (already resolved by the transport) and 304.
	Success Outcome = iota
	// Retryable covers 408, 425, 429, 500-504 and transport-level failures.
	Retryable
	// Permanent covers other 4xx, content-type rejection and oversize bodies.
	Permanent
)

// Classify maps an HTTP status code and transport error to an Outcome and
// the error_type that should be recorded for it. status <= 0 indicates a
// transport-level failure (network error, no response received).
func Classify(status int, transportErr string) (Outcome, Type) {
	if status <= 0 {
		return Retryable, classifyTransportError(transportErr)
	}

	switch {
	case status == 408 || status == 425 || status == 429:
		if status == 429 {
			return Retryable, HTTPRateLimited
		}
		return Retryable, HTTPServer5xx
	case status >= 500 && status <= 504:
		return Retryable, HTTPServer5xx
	case status >= 400 && status < 500:
		return Permanent, HTTPClient4xx
	default:
		return Success, None
	}
}

func classifyTransportError(msg string) Type {
	switch {
	case msg == "":
		return NetworkConnection
	case containsAny(msg, "timeout", "deadline exceeded"):
		return NetworkTimeout
	case containsAny(msg, "no such host", "dns"):
		return NetworkDNS
	case containsAny(msg, "tls", "certificate", "x509"):
		return NetworkTLS
	default:
		return NetworkConnection
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexFold(s, sub) >= 0 {
			return true
		}
	}
	return false
}

// indexFold is a tiny case-insensitive substring search, avoiding a
// strings.ToLower allocation on every classification call.
func indexFold(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], sub) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
