package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	accountdomain "edge-guard/backend/internal/account/domain"
	auditdomain "edge-guard/backend/internal/audit/domain"
	"edge-guard/backend/internal/fingerprint"
	"edge-guard/backend/internal/identity/domain"
	"edge-guard/backend/internal/revocation"
	"edge-guard/backend/internal/security"
	sessiondomain "edge-guard/backend/internal/session/domain"
)

const testPassword = "correct horse battery staple"

type memAccounts struct {
	mu          sync.Mutex
	byID        map[int64]*accountdomain.Account
	invalidated []int64
}

func (m *memAccounts) GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Username == username {
			return a, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id int64) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memAccounts) InvalidateID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
}

type memSessions struct {
	mu        sync.Mutex
	m         map[string]*sessiondomain.RefreshSession
	revokeErr error
}

func (r *memSessions) Create(ctx context.Context, s *sessiondomain.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessions) GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.TokenHash == tokenHash {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memSessions) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.TokenHash != oldHash || s.RevokedAt != nil {
		return false, nil
	}
	s.TokenHash = newHash
	s.ExpiresAt = expiresAt
	return true, nil
}

func (r *memSessions) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revokeErr != nil {
		return r.revokeErr
	}
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		t := time.Now()
		s.RevokedAt = &t
	}
	return nil
}

func (r *memSessions) RevokeAllByUser(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	t := time.Now()
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *memSessions) get(id string) *sessiondomain.RefreshSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id]
}

func (r *memSessions) only(t *testing.T) *sessiondomain.RefreshSession {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.m) != 1 {
		t.Fatalf("sessions = %d, want 1", len(r.m))
	}
	for _, s := range r.m {
		return s
	}
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) LogEvent(ctx context.Context, userID int64, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *memAudit) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.actions) == 0 {
		return ""
	}
	return a.actions[len(a.actions)-1]
}

type fixture struct {
	svc      *AuthService
	accounts *memAccounts
	sessions *memSessions
	audit    *memAudit
	issuer   *security.Issuer
	store    *revocation.Store
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Encode([]byte(testPassword))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		accounts: &memAccounts{byID: map[int64]*accountdomain.Account{
			1: {ID: 1, Username: "alice", PasswordHash: hash, Enabled: true},
			2: {ID: 2, Username: "mallory", PasswordHash: hash, Enabled: false},
		}},
		sessions: &memSessions{m: make(map[string]*sessiondomain.RefreshSession)},
		audit:    &memAudit{},
		issuer:   security.NewTestIssuer(nil),
		store:    revocation.NewStore(rdb, revocation.Config{Enabled: true}),
		mr:       mr,
	}
	f.svc = NewAuthService(Deps{
		Accounts:   f.accounts,
		Sessions:   f.sessions,
		Tokens:     f.issuer,
		Versions:   f.store,
		Passwords:  hasher,
		Audit:      f.audit,
		RefreshTTL: time.Hour,
	})
	return f
}

func laptop() fingerprint.Device {
	return fingerprint.FromRequest(fingerprint.RequestMeta{
		RemoteAddr: "203.0.113.10:51000",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
	}, "device-1")
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	dev := laptop()

	res, err := f.svc.Login(context.Background(), " alice ", testPassword, dev)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != 1 || res.Username != "alice" || res.RefreshToken == "" {
		t.Errorf("result = %+v", res)
	}
	claims, err := f.issuer.Verify(res.AccessToken, 0)
	if err != nil {
		t.Fatalf("Verify access token: %v", err)
	}
	if claims.DeviceFingerprint != dev.Fingerprint || claims.UserID != 1 || claims.Subject != "alice" {
		t.Errorf("claims = %+v", claims)
	}

	sess := f.sessions.only(t)
	if sess.TokenHash != security.HashRefreshToken(res.RefreshToken) {
		t.Error("session must store the refresh token hash")
	}
	if sess.UserAgentHash != dev.UserAgentHash || sess.IPPrefix != "203.0.113" || sess.DeviceID != "device-1" {
		t.Errorf("session device binding = %+v", sess)
	}
	if !sess.ExpiresAt.Equal(res.RefreshExpiresAt) {
		t.Errorf("session expiry %v != result %v", sess.ExpiresAt, res.RefreshExpiresAt)
	}
	if f.audit.last() != auditdomain.ActionLoginSuccess {
		t.Errorf("audit = %q", f.audit.last())
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name, username, password string
	}{
		{"empty username", "", testPassword},
		{"empty password", "alice", ""},
		{"unknown user", "nobody", testPassword},
		{"wrong password", "alice", "wrong"},
		{"disabled account", "mallory", testPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Login(context.Background(), tt.username, tt.password, laptop())
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
			if len(f.sessions.m) != 0 {
				t.Error("no session should be created")
			}
		})
	}
}

func TestLogin_EmbedsCurrentVersion(t *testing.T) {
	f := newFixture(t)
	if err := f.store.BumpUserVersion(context.Background(), 1, 4); err != nil {
		t.Fatalf("BumpUserVersion: %v", err)
	}
	res, err := f.svc.Login(context.Background(), "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if v, ok := f.issuer.ExtractTokenVersion(res.AccessToken); !ok || v != 4 {
		t.Errorf("token version = %d, %v; want 4", v, ok)
	}
}

func TestLogin_StoreDownIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	_, err := f.svc.Login(context.Background(), "alice", testPassword, laptop())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := laptop()
	first, err := f.svc.Login(ctx, "alice", testPassword, dev)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	second, err := f.svc.Refresh(ctx, first.RefreshToken, dev)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == "" {
		t.Error("refresh must rotate the refresh token and issue an access token")
	}
	if !f.issuer.Validate(second.AccessToken, 0) {
		t.Error("new access token should validate")
	}
	// The old refresh token is single use.
	if _, err := f.svc.Refresh(ctx, first.RefreshToken, dev); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reuse err = %v, want ErrInvalidRefreshToken", err)
	}
	if f.audit.last() != auditdomain.ActionRefreshRejected {
		t.Errorf("audit = %q", f.audit.last())
	}
}

func TestRefresh_DeviceMismatchRevokesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	sess := f.sessions.only(t)

	other := fingerprint.FromRequest(fingerprint.RequestMeta{
		RemoteAddr: "198.51.100.20:40000",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
	}, "device-1")
	if _, err := f.svc.Refresh(ctx, res.RefreshToken, other); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("err = %v, want ErrInvalidRefreshToken", err)
	}
	if f.sessions.get(sess.ID).RevokedAt == nil {
		t.Error("session should be revoked after device mismatch")
	}
	// Even the original device cannot use it now.
	if _, err := f.svc.Refresh(ctx, res.RefreshToken, laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("err = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestRefresh_DisabledAccount(t *testing.T) {
	tests := []struct {
		name      string
		revokeErr error
	}{
		{"session revoked", nil},
		{"revoke fails", errors.New("db: connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			res, err := f.svc.Login(ctx, "alice", testPassword, laptop())
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			sess := f.sessions.only(t)
			f.accounts.mu.Lock()
			f.accounts.byID[1].Enabled = false
			f.accounts.mu.Unlock()
			f.sessions.mu.Lock()
			f.sessions.revokeErr = tt.revokeErr
			f.sessions.mu.Unlock()

			if _, err := f.svc.Refresh(ctx, res.RefreshToken, laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("err = %v, want ErrInvalidRefreshToken", err)
			}
			if f.audit.last() != auditdomain.ActionRefreshRejected {
				t.Errorf("audit = %q", f.audit.last())
			}
			revoked := f.sessions.get(sess.ID).RevokedAt != nil
			if revoked != (tt.revokeErr == nil) {
				t.Errorf("revoked = %v with revokeErr %v", revoked, tt.revokeErr)
			}
		})
	}
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Refresh(ctx, "", laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("empty token err = %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "never-issued", laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("unknown token err = %v", err)
	}

	res, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := f.svc.Refresh(ctx, res.RefreshToken, laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expired session err = %v", err)
	}
}

func TestLogout_BlacklistsAndRevokes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := f.issuer.Parse(res.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cred := &domain.AccessCredential{UserID: 1, JTI: claims.ID, ExpiresAt: claims.ExpiresAt.Time}

	if err := f.svc.Logout(ctx, cred, res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !f.store.IsBlacklisted(ctx, claims.ID) {
		t.Error("access token jti should be blacklisted")
	}
	if ttl := f.mr.TTL("auth:blacklist:" + claims.ID); ttl < revocation.GracePeriod {
		t.Errorf("blacklist ttl = %v, want at least the grace period", ttl)
	}
	if f.sessions.only(t).RevokedAt == nil {
		t.Error("refresh session should be revoked")
	}
	if f.audit.last() != auditdomain.ActionLogout {
		t.Errorf("audit = %q", f.audit.last())
	}
	// Idempotent.
	if err := f.svc.Logout(ctx, cred, res.RefreshToken); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, nil, ""); err != nil {
		t.Errorf("empty Logout: %v", err)
	}
}

func TestLogout_IgnoresOtherAccountsRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	cred := &domain.AccessCredential{UserID: 99, JTI: "other-jti", ExpiresAt: time.Now().Add(time.Minute)}
	if err := f.svc.Logout(ctx, cred, res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.sessions.only(t).RevokedAt != nil {
		t.Error("another account's session must not be revoked")
	}
}

func TestLogoutAll_InvalidatesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	b, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := f.svc.LogoutAll(ctx, 1)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if next != 1 {
		t.Errorf("new version = %d, want 1", next)
	}
	current := f.store.MinValidVersion(ctx, 1)
	for _, tok := range []string{a.AccessToken, b.AccessToken} {
		if f.issuer.Validate(tok, current) {
			t.Error("tokens issued before LogoutAll must be invalid")
		}
	}
	if _, err := f.svc.Refresh(ctx, a.RefreshToken, laptop()); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("refresh after LogoutAll err = %v", err)
	}
	if len(f.accounts.invalidated) != 1 || f.accounts.invalidated[0] != 1 {
		t.Errorf("invalidated = %v, want [1]", f.accounts.invalidated)
	}

	// A fresh login carries the new version.
	c, err := f.svc.Login(ctx, "alice", testPassword, laptop())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !f.issuer.Validate(c.AccessToken, current) {
		t.Error("token issued after LogoutAll should validate")
	}
}

func TestLogoutAll_ConcurrentCallsDoNotLoseIncrements(t *testing.T) {
	f := newFixture(t)
	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.LogoutAll(context.Background(), 1); err != nil {
				t.Errorf("LogoutAll: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.store.MinValidVersion(context.Background(), 1); got != n {
		t.Errorf("version = %d, want %d", got, n)
	}
	if len(f.svc.locks.locks) != 0 {
		t.Errorf("lock table should be empty, has %d entries", len(f.svc.locks.locks))
	}
}

func TestLogoutAll_StoreDown(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	if _, err := f.svc.LogoutAll(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if _, err := f.svc.LogoutAll(context.Background(), 0); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("zero user err = %v", err)
	}
}
