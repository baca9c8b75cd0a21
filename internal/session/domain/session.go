package domain

import "time"

// RefreshSession is a persisted refresh credential bound to the device that obtained it.
// Only the SHA-256 hash of the refresh token is stored.
type RefreshSession struct {
	ID            string
	UserID        int64
	TokenHash     string
	UserAgentHash string
	IPPrefix      string
	DeviceID      string // empty when the client sent none
	DeviceName    string
	IPAddress     string
	ExpiresAt     time.Time
	RevokedAt     *time.Time // nil when not revoked
	CreatedAt     time.Time
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *RefreshSession) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
