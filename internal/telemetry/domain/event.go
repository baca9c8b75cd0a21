package domain

import "time"

// Security event types.
const (
	EventLoginSucceeded  = "login_succeeded"
	EventLoginFailed     = "login_failed"
	EventRefreshed       = "token_refreshed"
	EventRefreshRejected = "refresh_rejected"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventRequestRejected = "request_rejected"
	EventSessionsPurged  = "sessions_purged"
)

// SecurityEvent is a structured record of a security-relevant decision at the edge.
type SecurityEvent struct {
	Type      string            `json:"event_type"`
	Source    string            `json:"source"`
	Reason    string            `json:"reason,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	Status    int               `json:"status,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
