package engine

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"edge-guard/backend/internal/edge"
	"edge-guard/backend/internal/ratelimit"
)

const decisionQuery = "data.edge.routes.decision"

//go:embed default_routes.rego
var defaultRoutePolicy string

// fallbackRoute is used when evaluation fails: not public, general API limit.
var fallbackRoute = edge.Route{Public: false, RatePolicy: ratelimit.API.Name}

// OPAClassifier classifies routes with a Rego policy compiled once at startup.
type OPAClassifier struct {
	query rego.PreparedEvalQuery
}

var _ Classifier = (*OPAClassifier)(nil)

// NewOPAClassifier compiles policy, or the embedded default when policy is empty.
func NewOPAClassifier(ctx context.Context, policy string) (*OPAClassifier, error) {
	if policy == "" {
		policy = defaultRoutePolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"routes.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile route policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare route policy: %w", err)
	}
	return &OPAClassifier{query: q}, nil
}

// LoadOPAClassifier reads the policy from path, or uses the embedded default when path is empty.
func LoadOPAClassifier(ctx context.Context, path string) (*OPAClassifier, error) {
	if path == "" {
		return NewOPAClassifier(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route policy: %w", err)
	}
	return NewOPAClassifier(ctx, string(b))
}

// Classify evaluates the policy for method and path. Evaluation failures are logged
// and resolve to a non-public route under the general API limit.
func (c *OPAClassifier) Classify(ctx context.Context, method, path string) edge.Route {
	route, err := c.evaluate(ctx, method, path)
	if err != nil {
		log.Printf("policy: route classification failed for %s %s: %v, using defaults", method, path, err)
		return fallbackRoute
	}
	return route
}

// HealthCheck evaluates a known probe path and checks the result shape.
func (c *OPAClassifier) HealthCheck(ctx context.Context) error {
	_, err := c.evaluate(ctx, "GET", "/actuator/health")
	return err
}

func (c *OPAClassifier) evaluate(ctx context.Context, method, path string) (edge.Route, error) {
	input := map[string]interface{}{
		"method": method,
		"path":   path,
	}
	rs, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return edge.Route{}, fmt.Errorf("eval route policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return edge.Route{}, fmt.Errorf("route policy returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return edge.Route{}, fmt.Errorf("route policy returned %T, want object", rs[0].Expressions[0].Value)
	}
	route := fallbackRoute
	if v, ok := obj["public"].(bool); ok {
		route.Public = v
	}
	if v, ok := obj["probe"].(bool); ok {
		route.Probe = v
	}
	if v, ok := obj["rate_policy"].(string); ok && v != "" {
		route.RatePolicy = v
	}
	return route, nil
}
