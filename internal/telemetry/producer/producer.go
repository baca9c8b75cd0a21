// Package producer publishes security events to a message broker.
package producer

import (
	"context"

	"edge-guard/backend/internal/telemetry/domain"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.SecurityEvent) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
