package server

import (
	"net/http"

	"edge-guard/backend/internal/edge"
	"edge-guard/backend/internal/telemetry"
	"edge-guard/backend/internal/telemetry/domain"
)

const rejectionSource = "edge"

// RejectionEvents returns a DenyObserver that emits a request_rejected event for each denial.
// Emission is asynchronous and best-effort.
func RejectionEvents(emitter telemetry.EventEmitter) edge.DenyObserver {
	return func(r *http.Request, d edge.Decision) {
		telemetry.EmitAsync(emitter, rejectionEvent(r, d))
	}
}

func rejectionEvent(r *http.Request, d edge.Decision) *domain.SecurityEvent {
	ev := &domain.SecurityEvent{
		Type:     domain.EventRequestRejected,
		Source:   rejectionSource,
		Reason:   d.Reason,
		ClientIP: edge.ClientIPFrom(r.Context()),
		Method:   r.Method,
		Path:     r.URL.Path,
		Status:   d.Status,
	}
	if d.Code != "" {
		ev.Metadata = map[string]string{"code": d.Code}
	}
	if id, ok := edge.IdentityFrom(r.Context()); ok {
		ev.UserID = id.UserID
		ev.Username = id.Username
	}
	return ev
}
