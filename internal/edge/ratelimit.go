package edge

import (
	"context"
	"net/http"
	"strconv"

	"edge-guard/backend/internal/fingerprint"
	"edge-guard/backend/internal/ratelimit"
)

// Limiter checks a subject against a rate-limit policy.
type Limiter interface {
	Allow(ctx context.Context, p ratelimit.Policy, subject string) ratelimit.Result
}

// RateLimit returns the rate-limit link. The policy comes from the route classification
// (ratelimit.API when unclassified). Account-scoped policies key on the authenticated user
// and fall back to the client address for anonymous requests.
func RateLimit(enabled bool, l Limiter) Link {
	return func(w http.ResponseWriter, r *http.Request) Decision {
		if !enabled || l == nil {
			return Next(nil)
		}
		policy := ratelimit.API
		if route, ok := RouteFrom(r.Context()); ok && route.RatePolicy != "" {
			policy = ratelimit.PolicyByName(route.RatePolicy)
		}
		res := l.Allow(r.Context(), policy, rateSubject(r, policy))
		if !res.Allowed {
			d := Reject(http.StatusTooManyRequests, CodeRateLimited, "rate_limit", ratelimit.ErrRateLimitExceeded)
			d.RetryAfter = res.RetryAfterSeconds
			return d
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		return Next(nil)
	}
}

func rateSubject(r *http.Request, p ratelimit.Policy) string {
	if p.By == ratelimit.ByAccount {
		if id, ok := IdentityFrom(r.Context()); ok {
			return "user:" + strconv.FormatInt(id.UserID, 10)
		}
	}
	return "ip:" + fingerprint.ClientIP(fingerprint.MetaFromRequest(r))
}
