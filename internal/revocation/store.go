// Package revocation tracks revoked access tokens by jti and per-account token versions in Redis.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistKeyPrefix   = "auth:blacklist:"
	userVersionKeyPrefix = "auth:user_version:"

	// GracePeriod is added to every blacklist TTL so the record outlives the token across node clock skew.
	GracePeriod = 60 * time.Second
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("revocation store unavailable")

// Config controls the store's behavior.
type Config struct {
	// Enabled gates per-token blacklisting. Version markers are always live.
	Enabled bool
	// FailClosed makes IsBlacklisted report true when the store errors.
	FailClosed bool
}

// Store is the Redis-backed revocation store. Safe for concurrent use.
// The version marker is last-write-wins; callers serialize BumpUserVersion per account.
type Store struct {
	rdb redis.Cmdable
	cfg Config
}

// NewStore returns a Store over rdb.
func NewStore(rdb redis.Cmdable, cfg Config) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

// Blacklist revokes jti for max(remainingTTLSeconds+60, 60) seconds.
// No-op when blacklisting is disabled or jti is empty.
func (s *Store) Blacklist(ctx context.Context, jti string, remainingTTLSeconds int64) error {
	if !s.cfg.Enabled || jti == "" {
		return nil
	}
	if err := s.rdb.Set(ctx, blacklistKey(jti), "1", BlacklistTTL(remainingTTLSeconds)).Err(); err != nil {
		log.Printf("revocation: blacklist jti failed: %v", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether jti has been revoked. On store failure it returns the configured
// default: false, or true when FailClosed is set.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) bool {
	if !s.cfg.Enabled || jti == "" {
		return false
	}
	n, err := s.rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		log.Printf("revocation: blacklist lookup failed (fail_closed=%t): %v", s.cfg.FailClosed, err)
		return s.cfg.FailClosed
	}
	return n > 0
}

// BumpUserVersion sets the authoritative token version for userID. The marker has no TTL.
// Every token embedding a different version is invalid from this point.
func (s *Store) BumpUserVersion(ctx context.Context, userID, newVersion int64) error {
	if err := s.rdb.Set(ctx, userVersionKey(userID), newVersion, 0).Err(); err != nil {
		log.Printf("revocation: bump version for user %d failed: %v", userID, err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UserVersion returns the current token version for userID, 0 when no marker exists.
// Unlike MinValidVersion it surfaces store failures; use it before computing a new version.
func (s *Store) UserVersion(ctx context.Context, userID int64) (int64, error) {
	v, err := s.rdb.Get(ctx, userVersionKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, nil
}

// MinValidVersion returns the current token version for userID, 0 if absent or the store is unreachable.
func (s *Store) MinValidVersion(ctx context.Context, userID int64) int64 {
	v, err := s.UserVersion(ctx, userID)
	if err != nil {
		log.Printf("revocation: version lookup for user %d failed: %v", userID, err)
		return 0
	}
	return v
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// BlacklistTTL returns the record lifetime for a token with remainingTTLSeconds left.
func BlacklistTTL(remainingTTLSeconds int64) time.Duration {
	ttl := time.Duration(remainingTTLSeconds)*time.Second + GracePeriod
	if ttl < GracePeriod {
		ttl = GracePeriod
	}
	return ttl
}

func blacklistKey(jti string) string {
	return blacklistKeyPrefix + jti
}

func userVersionKey(userID int64) string {
	return userVersionKeyPrefix + strconv.FormatInt(userID, 10)
}
