package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"edge-guard/backend/internal/edge"
)

const codeBadGateway = "BAD_GATEWAY"

// NewUpstream returns a reverse proxy to rawURL. Forwarding headers sent by the client are replaced
// with ones derived from the connection; identity headers set by the auth filter pass through.
func NewUpstream(rawURL string) (http.Handler, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("upstream: URL is required")
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, fmt.Errorf("upstream: URL must be absolute http(s), got %q", rawURL)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("upstream: %s %s: %v", r.Method, r.URL.Path, err)
			edge.WriteError(w, http.StatusBadGateway, codeBadGateway, "upstream unavailable")
		},
	}, nil
}
