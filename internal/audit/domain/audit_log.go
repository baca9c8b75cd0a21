package domain

import "time"

// Audit actions written by the identity service.
const (
	ActionLoginSuccess    = "login_success"
	ActionLoginFailure    = "login_failure"
	ActionRefresh         = "refresh"
	ActionRefreshRejected = "refresh_rejected"
	ActionLogout          = "logout"
	ActionLogoutAll       = "logout_all"
)

// ResourceAuthentication is the resource for credential lifecycle actions.
const ResourceAuthentication = "authentication"

// AuditLog represents an audit event. UserID is 0 when the actor is unknown (e.g. a failed login).
type AuditLog struct {
	ID        string
	UserID    int64
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
