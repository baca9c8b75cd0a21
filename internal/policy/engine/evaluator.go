package engine

import (
	"context"

	"edge-guard/backend/internal/edge"
)

// Classifier classifies requests for the edge pipeline and reports its own health.
type Classifier interface {
	edge.RouteClassifier
	// HealthCheck verifies the policy compiles and evaluates. Used by readiness probes.
	HealthCheck(ctx context.Context) error
}
