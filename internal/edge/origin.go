package edge

import (
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// OriginConfig configures the origin guard.
type OriginConfig struct {
	Enabled bool
	// ProtectedPrefix limits enforcement to paths under it, e.g. "/api/".
	ProtectedPrefix string
	// AllowedOrigins are exact origins or patterns where "*" matches any substring.
	AllowedOrigins []string
	// TrustForwardedProto lets X-Forwarded-Proto decide the server scheme.
	TrustForwardedProto bool
	// CredentialCookie is the access token cookie. A bearer header exempts a request only when
	// this cookie is absent. Defaults to DefaultAccessCookie.
	CredentialCookie string
}

// OriginGuard enforces same-origin or allow-listed origins on state-changing browser requests.
type OriginGuard struct {
	cfg      OriginConfig
	exact    map[string]bool
	patterns []*regexp.Regexp
}

// NewOriginGuard compiles cfg. Invalid allow-list entries are logged and skipped.
func NewOriginGuard(cfg OriginConfig) *OriginGuard {
	if cfg.CredentialCookie == "" {
		cfg.CredentialCookie = DefaultAccessCookie
	}
	g := &OriginGuard{cfg: cfg, exact: make(map[string]bool)}
	for _, raw := range cfg.AllowedOrigins {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "*") {
			re, err := compileWildcard(entry)
			if err != nil {
				log.Printf("edge: skipping allowed origin %q: %v", entry, err)
				continue
			}
			g.patterns = append(g.patterns, re)
			continue
		}
		canon, ok := CanonicalOrigin(entry)
		if !ok {
			log.Printf("edge: skipping allowed origin %q: not an origin", entry)
			continue
		}
		g.exact[canon] = true
	}
	return g
}

// Link returns the guard as a pipeline link.
func (g *OriginGuard) Link() Link {
	return func(w http.ResponseWriter, r *http.Request) Decision {
		if g.Check(r) {
			return Next(nil)
		}
		return Reject(http.StatusForbidden, CodeOriginRejected, "origin", ErrOriginRejected)
	}
}

// Check reports whether r may proceed.
func (g *OriginGuard) Check(r *http.Request) bool {
	if g.exempt(r) {
		return true
	}
	server := g.serverOrigin(r)
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		return g.accepts(origin, server)
	}
	if referer := strings.TrimSpace(r.Header.Get("Referer")); referer != "" {
		return g.accepts(referer, server)
	}
	return false
}

func (g *OriginGuard) exempt(r *http.Request) bool {
	if !g.cfg.Enabled {
		return true
	}
	if g.cfg.ProtectedPrefix != "" && !strings.HasPrefix(r.URL.Path, g.cfg.ProtectedPrefix) {
		return true
	}
	if isSafeMethod(r.Method) {
		return true
	}
	if route, ok := RouteFrom(r.Context()); ok && route.Public {
		return true
	}
	return g.nonBrowser(r)
}

// nonBrowser reports whether r carries a bearer credential and no credential cookie.
// Browsers attach cookies automatically, so a cookie means origin checks still apply.
func (g *OriginGuard) nonBrowser(r *http.Request) bool {
	if bearerToken(r) == "" {
		return false
	}
	_, err := r.Cookie(g.cfg.CredentialCookie)
	return err != nil
}

func (g *OriginGuard) accepts(raw, server string) bool {
	canon, ok := CanonicalOrigin(raw)
	if !ok {
		return false
	}
	if canon == server || g.exact[canon] {
		return true
	}
	for _, re := range g.patterns {
		if re.MatchString(canon) {
			return true
		}
	}
	return false
}

// serverOrigin is scheme://host[:port] of the request target with default ports omitted.
func (g *OriginGuard) serverOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if g.cfg.TrustForwardedProto {
		if p := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); p == "http" || p == "https" {
			scheme = p
		}
	}
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	canon, _ := CanonicalOrigin(scheme + "://" + host)
	return canon
}

// CanonicalOrigin reduces raw (an Origin or any absolute URL) to scheme://host[:port],
// lowercased, with the scheme's default port omitted.
func CanonicalOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if scheme == "" || host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" || port == defaultPort(scheme) {
		return scheme + "://" + host, true
	}
	return scheme + "://" + host + ":" + port, true
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

// compileWildcard turns an allow-list pattern into a case-insensitive anchored matcher.
func compileWildcard(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(strings.TrimRight(pattern, "/"), "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
