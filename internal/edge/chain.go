// Package edge implements the request pipeline that runs before routing: route classification,
// sanitization, origin enforcement, credential authentication, and rate limiting.
// Each stage is a Link returning an explicit Decision.
package edge

import (
	"net/http"
	"strconv"
)

// Outcome is a link's verdict on a request.
type Outcome int

const (
	// Continue passes the request to the next link.
	Continue Outcome = iota
	// Allow skips the remaining links and runs the handler.
	Allow
	// Deny writes a terminal error response.
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is returned by every Link.
type Decision struct {
	Outcome Outcome
	// Request replaces the in-flight request for Continue and Allow when non-nil.
	Request *http.Request
	// Deny fields.
	Status     int
	Code       string
	Reason     string
	Err        error
	RetryAfter int
}

// Next continues the chain with r.
func Next(r *http.Request) Decision {
	return Decision{Outcome: Continue, Request: r}
}

// Pass allows r through without evaluating later links.
func Pass(r *http.Request) Decision {
	return Decision{Outcome: Allow, Request: r}
}

// Reject denies the request with status and a public code. reason labels metrics and events.
func Reject(status int, code, reason string, err error) Decision {
	return Decision{Outcome: Deny, Status: status, Code: code, Reason: reason, Err: err}
}

// Link is one stage of the edge pipeline.
type Link func(w http.ResponseWriter, r *http.Request) Decision

// DenyObserver is notified of every denied request.
type DenyObserver func(r *http.Request, d Decision)

// Chain runs links in declaration order.
type Chain struct {
	links     []Link
	observers []DenyObserver
}

// NewChain returns a Chain of links. Nil links are skipped.
func NewChain(links ...Link) Chain {
	c := Chain{}
	for _, l := range links {
		if l != nil {
			c.links = append(c.links, l)
		}
	}
	return c
}

// Append returns a new Chain with links added after the existing ones.
func (c Chain) Append(links ...Link) Chain {
	out := Chain{
		links:     append(append([]Link(nil), c.links...), NewChain(links...).links...),
		observers: append([]DenyObserver(nil), c.observers...),
	}
	return out
}

// OnDeny returns a new Chain that also notifies o on every Deny.
func (c Chain) OnDeny(o DenyObserver) Chain {
	out := Chain{
		links:     append([]Link(nil), c.links...),
		observers: append(append([]DenyObserver(nil), c.observers...), o),
	}
	return out
}

// Then wraps h with the chain.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, link := range c.links {
			d := link(w, r)
			if d.Request != nil {
				r = d.Request
			}
			switch d.Outcome {
			case Continue:
				continue
			case Allow:
				h.ServeHTTP(w, r)
				return
			default:
				for _, o := range c.observers {
					o(r, d)
				}
				writeDenied(w, d)
				return
			}
		}
		h.ServeHTTP(w, r)
	})
}

// ThenFunc wraps fn with the chain.
func (c Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

func writeDenied(w http.ResponseWriter, d Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
	status := d.Status
	if status == 0 {
		status = http.StatusForbidden
	}
	msg := http.StatusText(status)
	if d.Err != nil {
		msg = d.Err.Error()
	}
	WriteError(w, status, d.Code, msg)
}
