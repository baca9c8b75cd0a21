package edge

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	// DefaultMaxBodyBytes is the request body ceiling when none is configured.
	DefaultMaxBodyBytes int64 = 10 << 20
	// MaxUserAgentLength is the longest User-Agent accepted.
	MaxUserAgentLength = 512
	// maxInspectLength clamps every string before pattern matching. Longer request URIs are
	// rejected outright so nothing past the clamp goes uninspected.
	maxInspectLength = 4096
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// traversalMarkers are matched against the lowercased raw request URI.
var traversalMarkers = []string{
	"../", `..\`,
	"%2e%2e/", "%2e%2e%2f", "..%2f", "%2e%2e%5c", "..%5c", `%2e%2e\`,
	"%252e%252e", "..%252f", "%c0%ae%c0%ae",
}

var nullMarkers = []string{"%00", "\x00"}

// injectionPatterns run against the lowercased URI, path and decoded query separately.
var injectionPatterns = []*regexp.Regexp{
	// Always-true conditions.
	regexp.MustCompile(`\b(or|and)\s+(\d+)\s*=\s*(\d+)`),
	regexp.MustCompile(`['"]\s*(or|and)\s+['"]?[\w]*['"]?\s*=\s*['"]?[\w]*`),
	// Union-style reads.
	regexp.MustCompile(`\bunion(\s|/\*.*?\*/)+(all(\s|/\*.*?\*/)+)?select\b`),
	// Destructive schema statements.
	regexp.MustCompile(`\b(drop|truncate|alter)\s+(table|database|schema)\b`),
	regexp.MustCompile(`;\s*(drop|delete|insert|update|create|alter|truncate|exec)\b`),
	// Timing-based blind injection.
	regexp.MustCompile(`\b(pg_sleep|sleep|benchmark)\s*\(`),
	regexp.MustCompile(`\bwaitfor\s+delay\b`),
	// Script and event-handler markup.
	regexp.MustCompile(`<\s*/?\s*(script|iframe|object|embed)\b`),
	regexp.MustCompile(`javascript\s*:`),
	regexp.MustCompile(`\bon(error|load|click|mouseover|focus|blur|submit|change)\s*=`),
}

// SanitizerConfig configures the request sanitizer.
type SanitizerConfig struct {
	Enabled      bool
	MaxBodyBytes int64
}

// Sanitize returns the sanitizer link. Checks run in a fixed order and the first match wins:
// method, body size, URI length, traversal and null bytes, injection signatures, User-Agent length.
func Sanitize(cfg SanitizerConfig) Link {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) Decision {
		if !cfg.Enabled {
			return Next(nil)
		}
		if !allowedMethods[r.Method] {
			return Reject(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "sanitizer_method", ErrRequestRejected)
		}
		if r.ContentLength > maxBody {
			return Reject(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "sanitizer_body", ErrRequestRejected)
		}
		rawURI := strings.ToLower(requestURI(r))
		if len(rawURI) > maxInspectLength {
			return Reject(http.StatusRequestURITooLong, CodeRequestRejected, "sanitizer_uri_length", ErrRequestRejected)
		}
		if containsAny(rawURI, traversalMarkers) || containsAny(rawURI, nullMarkers) ||
			strings.Contains(r.URL.Path, "../") || strings.ContainsRune(r.URL.Path, 0) {
			return Reject(http.StatusBadRequest, CodeRequestRejected, "sanitizer_traversal", ErrRequestRejected)
		}
		if matchesInjection(inspectTargets(r, rawURI)...) {
			return Reject(http.StatusBadRequest, CodeRequestRejected, "sanitizer_injection", ErrRequestRejected)
		}
		if len(r.Header.Get("User-Agent")) > MaxUserAgentLength {
			return Reject(http.StatusBadRequest, CodeRequestRejected, "sanitizer_user_agent", ErrRequestRejected)
		}
		if r.Body != nil && r.Body != http.NoBody {
			r2 := r.Clone(r.Context())
			r2.Body = http.MaxBytesReader(w, r.Body, maxBody)
			return Next(r2)
		}
		return Next(nil)
	}
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// inspectTargets are the lowercased raw URI, decoded path and decoded query, each clamped.
func inspectTargets(r *http.Request, rawURI string) []string {
	targets := []string{clamp(rawURI), clamp(strings.ToLower(r.URL.Path))}
	if r.URL.RawQuery != "" {
		q, err := url.QueryUnescape(r.URL.RawQuery)
		if err != nil {
			q = r.URL.RawQuery
		}
		targets = append(targets, clamp(strings.ToLower(q)))
	}
	return targets
}

func matchesInjection(targets ...string) bool {
	for _, s := range targets {
		for _, re := range injectionPatterns {
			if re.MatchString(s) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func clamp(s string) string {
	if len(s) > maxInspectLength {
		return s[:maxInspectLength]
	}
	return s
}
