package domain

import "time"

// Account is a local credential holder. PasswordHash is produced by the configured PasswordEncoder.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
