package edge

import (
	"context"
	"net/http"

	"edge-guard/backend/internal/fingerprint"
)

// RouteClassifier decides a request's route class.
type RouteClassifier interface {
	Classify(ctx context.Context, method, path string) Route
}

// Classify returns the link that attaches the route classification and client address to the request context.
// Probe routes are allowed through without evaluating later links; forwarded identity headers
// are still removed from them.
func Classify(c RouteClassifier) Link {
	return func(w http.ResponseWriter, r *http.Request) Decision {
		route := c.Classify(r.Context(), r.Method, r.URL.Path)
		ctx := WithRoute(r.Context(), route)
		ctx = WithClientIP(ctx, fingerprint.ClientIP(fingerprint.MetaFromRequest(r)))
		if route.Probe {
			r = r.Clone(ctx)
			r.Header.Del(HeaderUserID)
			r.Header.Del(HeaderUsername)
			return Pass(r)
		}
		r = r.WithContext(ctx)
		return Next(r)
	}
}
