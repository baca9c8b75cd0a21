package edge

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"edge-guard/backend/internal/fingerprint"
	"edge-guard/backend/internal/security"
)

// Forwarded identity headers. Only the auth filter may set them.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-Username"
	// HeaderDeviceID carries the optional client-supplied device id.
	HeaderDeviceID = "X-Device-Id"
)

// DefaultAccessCookie is the cookie carrying the access token.
const DefaultAccessCookie = "access_token"

// TokenParser parses and verifies access tokens.
type TokenParser interface {
	Parse(token string) (*security.AccessClaims, error)
}

// RevocationChecker answers blacklist and token version queries.
type RevocationChecker interface {
	IsBlacklisted(ctx context.Context, jti string) bool
	MinValidVersion(ctx context.Context, userID int64) int64
}

// AuthConfig configures the auth filter.
type AuthConfig struct {
	CookieName string
	// FingerprintBinding requires a token's dfp claim, when present, to match the request.
	FingerprintBinding bool
}

// AuthFilter establishes identity from the access token and forwards it as trusted headers.
// A missing or invalid credential leaves the request unauthenticated; it is never rejected here.
type AuthFilter struct {
	cfg         AuthConfig
	tokens      TokenParser
	revocations RevocationChecker
}

// NewAuthFilter returns an AuthFilter.
func NewAuthFilter(cfg AuthConfig, tokens TokenParser, revocations RevocationChecker) *AuthFilter {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultAccessCookie
	}
	return &AuthFilter{cfg: cfg, tokens: tokens, revocations: revocations}
}

// Link returns the filter as a pipeline link.
func (f *AuthFilter) Link() Link {
	return func(w http.ResponseWriter, r *http.Request) Decision {
		return Next(f.Authenticate(r))
	}
}

// Authenticate returns a copy of r with spoofable identity headers and the credential removed,
// and, when the credential is valid, the forwarded identity headers and context identity set.
func (f *AuthFilter) Authenticate(r *http.Request) *http.Request {
	token := f.credential(r)
	out := r.Clone(r.Context())
	out.Header.Del(HeaderUserID)
	out.Header.Del(HeaderUsername)
	out.Header.Del("Authorization")
	stripCookie(out, f.cfg.CookieName)
	if token == "" {
		return out
	}
	id, ok := f.verify(r, token)
	if !ok {
		return out
	}
	out.Header.Set(HeaderUserID, strconv.FormatInt(id.UserID, 10))
	out.Header.Set(HeaderUsername, id.Username)
	return out.WithContext(WithIdentity(out.Context(), id))
}

func (f *AuthFilter) verify(r *http.Request, token string) (Identity, bool) {
	claims, err := f.tokens.Parse(token)
	if err != nil {
		return Identity{}, false
	}
	ctx := r.Context()
	if f.revocations != nil {
		if f.revocations.IsBlacklisted(ctx, claims.ID) {
			return Identity{}, false
		}
		if claims.TokenVersion != f.revocations.MinValidVersion(ctx, claims.UserID) {
			return Identity{}, false
		}
	}
	if f.cfg.FingerprintBinding && claims.DeviceFingerprint != "" {
		dev := fingerprint.FromRequest(fingerprint.MetaFromRequest(r), r.Header.Get(HeaderDeviceID))
		if dev.Fingerprint != claims.DeviceFingerprint {
			return Identity{}, false
		}
	}
	id := Identity{
		UserID:       claims.UserID,
		Username:     claims.Subject,
		JTI:          claims.ID,
		TokenVersion: claims.TokenVersion,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, true
}

// credential reads an Authorization bearer header, falling back to the access cookie.
// A request that presents a bearer is authenticated by it alone.
func (f *AuthFilter) credential(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(f.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// stripCookie rewrites the Cookie header without name.
func stripCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return
	}
	kept := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		kept = append(kept, c.Name+"="+c.Value)
	}
	r.Header.Del("Cookie")
	if len(kept) > 0 {
		r.Header.Set("Cookie", strings.Join(kept, "; "))
	}
}
