package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	accountdomain "edge-guard/backend/internal/account/domain"
	"edge-guard/backend/internal/audit"
	auditdomain "edge-guard/backend/internal/audit/domain"
	"edge-guard/backend/internal/fingerprint"
	"edge-guard/backend/internal/identity/domain"
	"edge-guard/backend/internal/security"
	sessiondomain "edge-guard/backend/internal/session/domain"
	"edge-guard/backend/internal/telemetry"
	eventdomain "edge-guard/backend/internal/telemetry/domain"
)

// Sentinel errors for the auth service; the handler maps the first two to one UNAUTHORIZED response.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUnavailable         = errors.New("credential store unavailable")
)

// DefaultRefreshTTL is the refresh session lifetime when none is configured.
const DefaultRefreshTTL = 7 * 24 * time.Hour

const eventSource = "identity"

// AccountStore is the account lookup needed by the auth service (normally the read-through cache).
type AccountStore interface {
	GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error)
	GetByID(ctx context.Context, id int64) (*accountdomain.Account, error)
	InvalidateID(id int64)
}

// SessionRepo is the minimal refresh session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.RefreshSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.RefreshSession, error)
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID int64) (int64, error)
}

// TokenIssuer issues access tokens.
type TokenIssuer interface {
	Generate(subject string, userID, tokenVersion int64, deviceFingerprint string) (token, jti string, expiresAt time.Time, err error)
}

// VersionStore is the revocation store surface the auth service writes to.
type VersionStore interface {
	Blacklist(ctx context.Context, jti string, remainingTTLSeconds int64) error
	UserVersion(ctx context.Context, userID int64) (int64, error)
	BumpUserVersion(ctx context.Context, userID, newVersion int64) error
}

// Deps groups the collaborators of AuthService. Audit and Events may be nil.
type Deps struct {
	Accounts   AccountStore
	Sessions   SessionRepo
	Tokens     TokenIssuer
	Versions   VersionStore
	Passwords  security.PasswordEncoder
	Audit      audit.AuditLogger
	Events     telemetry.EventEmitter
	RefreshTTL time.Duration
}

// AuthService implements login, refresh rotation, logout and sign-out-everywhere.
type AuthService struct {
	accounts   AccountStore
	sessions   SessionRepo
	tokens     TokenIssuer
	versions   VersionStore
	passwords  security.PasswordEncoder
	audit      audit.AuditLogger
	events     telemetry.EventEmitter
	refreshTTL time.Duration
	locks      *accountLocks
	now        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) *AuthService {
	ttl := d.RefreshTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &AuthService{
		accounts:   d.Accounts,
		sessions:   d.Sessions,
		tokens:     d.Tokens,
		versions:   d.Versions,
		passwords:  d.Passwords,
		audit:      d.Audit,
		events:     d.Events,
		refreshTTL: ttl,
		locks:      newAccountLocks(),
		now:        time.Now,
	}
}

// Login verifies username/password and opens a refresh session bound to dev.
func (s *AuthService) Login(ctx context.Context, username, password string, dev fingerprint.Device) (*domain.AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if acct == nil || !acct.Enabled || !s.passwords.Matches(acct.PasswordHash, []byte(password)) {
		var uid int64
		if acct != nil {
			uid = acct.ID
		}
		s.record(ctx, uid, username, auditdomain.ActionLoginFailure, eventdomain.EventLoginFailed, "invalid_credentials", dev)
		return nil, ErrInvalidCredentials
	}

	res, err := s.issue(ctx, acct, dev)
	if err != nil {
		return nil, err
	}
	plain, hash, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &sessiondomain.RefreshSession{
		ID:            uuid.New().String(),
		UserID:        acct.ID,
		TokenHash:     hash,
		UserAgentHash: dev.UserAgentHash,
		IPPrefix:      dev.IPPrefix,
		DeviceID:      dev.DeviceID,
		DeviceName:    dev.DeviceName,
		IPAddress:     dev.IPAddress,
		ExpiresAt:     now.Add(s.refreshTTL),
		CreatedAt:     now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	res.RefreshToken = plain
	res.RefreshExpiresAt = sess.ExpiresAt
	s.record(ctx, acct.ID, acct.Username, auditdomain.ActionLoginSuccess, eventdomain.EventLoginSucceeded, "", dev)
	return res, nil
}

// Refresh rotates refreshToken and issues a new access token.
// The presenting device must match the one stored with the session; a mismatch revokes the session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, dev fingerprint.Device) (*domain.AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.sessions.GetByTokenHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !sess.Active(now) {
		var uid int64
		if sess != nil {
			uid = sess.UserID
		}
		s.record(ctx, uid, "", auditdomain.ActionRefreshRejected, eventdomain.EventRefreshRejected, "inactive_session", dev)
		return nil, ErrInvalidRefreshToken
	}
	if !dev.Matches(sess.UserAgentHash, sess.IPPrefix, sess.DeviceID) {
		if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
			log.Printf("identity: revoke session %s after device mismatch: %v", sess.ID, err)
		}
		s.record(ctx, sess.UserID, "", auditdomain.ActionRefreshRejected, eventdomain.EventRefreshRejected, "device_mismatch", dev)
		return nil, ErrInvalidRefreshToken
	}
	acct, err := s.accounts.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if acct == nil || !acct.Enabled {
		if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
			log.Printf("identity: revoke session %s for disabled account: %v", sess.ID, err)
		}
		s.record(ctx, sess.UserID, "", auditdomain.ActionRefreshRejected, eventdomain.EventRefreshRejected, "account_disabled", dev)
		return nil, ErrInvalidRefreshToken
	}

	plain, hash, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(s.refreshTTL)
	rotated, err := s.sessions.Rotate(ctx, sess.ID, sess.TokenHash, hash, expiresAt)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Another request already rotated or revoked this token.
		s.record(ctx, acct.ID, acct.Username, auditdomain.ActionRefreshRejected, eventdomain.EventRefreshRejected, "concurrent_rotation", dev)
		return nil, ErrInvalidRefreshToken
	}
	res, err := s.issue(ctx, acct, dev)
	if err != nil {
		return nil, err
	}
	res.RefreshToken = plain
	res.RefreshExpiresAt = expiresAt
	s.record(ctx, acct.ID, acct.Username, auditdomain.ActionRefresh, eventdomain.EventRefreshed, "", dev)
	return res, nil
}

// Logout blacklists the presented access token (when cred is non-nil) and revokes the refresh session.
// It is idempotent: unknown or already revoked credentials are ignored.
func (s *AuthService) Logout(ctx context.Context, cred *domain.AccessCredential, refreshToken string) error {
	var userID int64
	if cred != nil && cred.JTI != "" {
		userID = cred.UserID
		remaining := int64(cred.ExpiresAt.Sub(s.now()) / time.Second)
		if err := s.versions.Blacklist(ctx, cred.JTI, remaining); err != nil {
			log.Printf("identity: blacklist jti on logout: %v", err)
		}
	}
	if refreshToken != "" {
		sess, err := s.sessions.GetByTokenHash(ctx, security.HashRefreshToken(refreshToken))
		if err != nil {
			return err
		}
		// A refresh token belonging to another account is left alone.
		if sess != nil && sess.RevokedAt == nil && (userID == 0 || sess.UserID == userID) {
			if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
				return err
			}
			userID = sess.UserID
		}
	}
	if userID != 0 {
		s.record(ctx, userID, "", auditdomain.ActionLogout, eventdomain.EventLogout, "", fingerprint.Device{})
	}
	return nil
}

// LogoutAll invalidates every credential of userID: the version marker moves to current+1, which
// rejects every outstanding access token, and every refresh session is revoked.
// Calls for the same account are serialized so concurrent rotations cannot lose an increment.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	if userID == 0 {
		return 0, ErrInvalidCredentials
	}
	unlock := s.locks.lock(userID)
	defer unlock()

	current, err := s.versions.UserVersion(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	next := current + 1
	if err := s.versions.BumpUserVersion(ctx, userID, next); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	revoked, err := s.sessions.RevokeAllByUser(ctx, userID)
	if err != nil {
		return next, err
	}
	s.accounts.InvalidateID(userID)
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, auditdomain.ActionLogoutAll, auditdomain.ResourceAuthentication,
			"version="+strconv.FormatInt(next, 10)+" sessions="+strconv.FormatInt(revoked, 10))
	}
	telemetry.EmitAsync(s.events, &eventdomain.SecurityEvent{
		Type:     eventdomain.EventLogoutAll,
		Source:   eventSource,
		UserID:   userID,
		Metadata: map[string]string{"version": strconv.FormatInt(next, 10), "sessions_revoked": strconv.FormatInt(revoked, 10)},
	})
	return next, nil
}

// issue signs an access token at the account's current authoritative version.
func (s *AuthService) issue(ctx context.Context, acct *accountdomain.Account, dev fingerprint.Device) (*domain.AuthResult, error) {
	version, err := s.versions.UserVersion(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	token, _, expiresAt, err := s.tokens.Generate(acct.Username, acct.ID, version, dev.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{
		UserID:          acct.ID,
		Username:        acct.Username,
		AccessToken:     token,
		AccessExpiresAt: expiresAt,
	}, nil
}

// record writes the audit row and emits the security event for one lifecycle step.
func (s *AuthService) record(ctx context.Context, userID int64, username, action, eventType, reason string, dev fingerprint.Device) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, auditdomain.ResourceAuthentication, reason)
	}
	telemetry.EmitAsync(s.events, &eventdomain.SecurityEvent{
		Type:     eventType,
		Source:   eventSource,
		Reason:   reason,
		UserID:   userID,
		Username: username,
		ClientIP: dev.IPAddress,
	})
}
