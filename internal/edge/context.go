package edge

import (
	"context"
	"time"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	routeKey    = contextKey{"route"}
	clientIPKey = contextKey{"client_ip"}
)

// Identity is the authenticated caller established by the auth filter.
type Identity struct {
	UserID       int64
	Username     string
	JTI          string
	TokenVersion int64
	ExpiresAt    time.Time
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity from ctx and true if the request was authenticated.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Route is the classification of a request path.
type Route struct {
	// Public routes are exempt from origin and identity enforcement.
	Public bool
	// Probe routes (health, metrics) skip the rest of the pipeline.
	Probe bool
	// RatePolicy names the ratelimit preset applied to the route.
	RatePolicy string
}

// WithRoute returns a context carrying route.
func WithRoute(ctx context.Context, route Route) context.Context {
	return context.WithValue(ctx, routeKey, route)
}

// RouteFrom returns the route classification from ctx and true if set.
func RouteFrom(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey).(Route)
	return r, ok
}

// WithClientIP returns a context carrying the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFrom returns the client address from ctx, or "" when unset.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
