package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is the access token lifetime when none is configured.
const DefaultAccessTTL = 3 * time.Minute

// Token failure taxonomy. Parse returns exactly one of the first four; Verify adds ErrTokenVersionStale.
var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenIssuerMismatch   = errors.New("token issuer mismatch")
	ErrTokenVersionStale     = errors.New("token version stale")
)

// AccessClaims holds JWT claims for the access token.
// The wire claim set is {sub, iss, iat, exp, jti, ver, uid, dfp?}.
type AccessClaims struct {
	jwt.RegisteredClaims
	TokenVersion      int64  `json:"ver"`
	UserID            int64  `json:"uid"`
	DeviceFingerprint string `json:"dfp,omitempty"`
}

// Issuer creates and validates HS256-signed access tokens.
// It holds no mutable state and is safe for concurrent use.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with a key derived from secret.
// It fails when the secret is shorter than 32 bytes or issuer is empty. A non-positive ttl uses DefaultAccessTTL.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	key, err := DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL returns the access token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Generate issues an access token for subject (username) and userID at tokenVersion.
// deviceFingerprint is embedded only when non-empty. Returns the token, its jti, and expiration time.
func (i *Issuer) Generate(subject string, userID, tokenVersion int64, deviceFingerprint string) (token, jti string, expiresAt time.Time, err error) {
	jti = uuid.NewString()
	// JWT NumericDate has second precision; truncate so exp is exactly iat+TTL on the wire.
	now := i.now().UTC().Truncate(time.Second)
	expiresAt = now.Add(i.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenVersion:      tokenVersion,
		UserID:            userID,
		DeviceFingerprint: deviceFingerprint,
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// Parse verifies the signature, expiry, and issuer of tokenString and returns its claims.
// Errors are ErrTokenExpired, ErrTokenMalformed, ErrTokenSignatureInvalid, or ErrTokenIssuerMismatch.
func (i *Issuer) Parse(tokenString string) (*AccessClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Verify parses tokenString and requires its embedded version to equal currentVersion exactly.
// A lower version means a rotation happened after issuance; a higher one means the authoritative
// marker was rolled back. Both are rejected with ErrTokenVersionStale.
func (i *Issuer) Verify(tokenString string, currentVersion int64) (*AccessClaims, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenVersion != currentVersion {
		return nil, ErrTokenVersionStale
	}
	return claims, nil
}

// Validate reports whether tokenString parses, is unexpired, and carries exactly currentVersion.
func (i *Issuer) Validate(tokenString string, currentVersion int64) bool {
	_, err := i.Verify(tokenString, currentVersion)
	return err == nil
}

// ExtractUsername returns the subject of a valid token, or "", false on any parse failure.
func (i *Issuer) ExtractUsername(tokenString string) (string, bool) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

// ExtractJTI returns the jti of a valid token, or "", false on any parse failure.
func (i *Issuer) ExtractJTI(tokenString string) (string, bool) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return "", false
	}
	return claims.ID, true
}

// ExtractTokenVersion returns the embedded version of a valid token, or 0, false on any parse failure.
func (i *Issuer) ExtractTokenVersion(tokenString string) (int64, bool) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return 0, false
	}
	return claims.TokenVersion, true
}

// ExpirationSeconds returns the whole seconds remaining until the token expires.
// Returns 0 for tokens that fail to parse or are already expired.
func (i *Issuer) ExpirationSeconds(tokenString string) int64 {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return 0
	}
	return RemainingSeconds(claims, i.now())
}

// RemainingSeconds returns the whole seconds between now and the claims' expiry, floored at 0.
func RemainingSeconds(claims *AccessClaims, now time.Time) int64 {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// mapJWTError collapses jwt library errors into the token failure taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenIssuerMismatch
	default:
		return ErrTokenMalformed
	}
}
