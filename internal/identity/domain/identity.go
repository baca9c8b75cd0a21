package domain

import "time"

// AuthResult is the outcome of a successful login or refresh.
type AuthResult struct {
	UserID           int64
	Username         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AccessCredential identifies the access token presented with a logout.
type AccessCredential struct {
	UserID    int64
	JTI       string
	ExpiresAt time.Time
}
