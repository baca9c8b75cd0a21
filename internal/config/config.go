// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinJWTSecretLength is the minimum JWT_SECRET length in bytes.
const MinJWTSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the edge gateway listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// UpstreamURL is the downstream service that authenticated traffic is proxied to. Empty disables the proxy.
	UpstreamURL string `mapstructure:"UPSTREAM_URL"`
	// DatabaseURL is the Postgres DSN for accounts, refresh sessions and audit logs.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the revocation / rate-limit store (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisTimeoutRaw bounds every store round-trip (e.g. "500ms").
	RedisTimeoutRaw string `mapstructure:"REDIS_TIMEOUT"`

	// JWTSecret is the HS256 signing secret; at least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// AccessTokenTTLMinutes is the access token lifetime in minutes; default 3.
	AccessTokenTTLMinutes int `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	// RefreshTokenTTL is the refresh session lifetime (e.g. "168h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	AccessTokenCookie  string `mapstructure:"ACCESS_TOKEN_COOKIE"`
	RefreshTokenCookie string `mapstructure:"REFRESH_TOKEN_COOKIE"`
	CookieSecure       bool   `mapstructure:"COOKIE_SECURE"`

	// RevocationEnabled turns jti blacklisting on; version markers are always honored.
	RevocationEnabled bool `mapstructure:"REVOCATION_ENABLED"`
	// RevocationFailClosed denies tokens when the store is unreachable.
	RevocationFailClosed bool `mapstructure:"REVOCATION_FAIL_CLOSED"`
	// TokenFingerprintBinding rejects tokens whose dfp claim does not match the presenting device.
	TokenFingerprintBinding bool `mapstructure:"TOKEN_FINGERPRINT_BINDING"`
	RateLimitEnabled        bool `mapstructure:"RATE_LIMIT_ENABLED"`

	OriginGuardEnabled bool `mapstructure:"ORIGIN_GUARD_ENABLED"`
	// AllowedOrigins is a comma-separated allow-list; entries may contain "*" wildcards.
	AllowedOrigins        string `mapstructure:"ALLOWED_ORIGINS"`
	OriginProtectedPrefix string `mapstructure:"ORIGIN_PROTECTED_PREFIX"`
	// TrustForwardedProto lets X-Forwarded-Proto decide the canonical scheme (behind a TLS-terminating proxy).
	TrustForwardedProto bool `mapstructure:"TRUST_FORWARDED_PROTO"`

	SanitizerEnabled    bool  `mapstructure:"SANITIZER_ENABLED"`
	MaxRequestBodyBytes int64 `mapstructure:"MAX_REQUEST_BODY_BYTES"`

	// RoutePolicyFile overrides the embedded Rego route policy.
	RoutePolicyFile string `mapstructure:"ROUTE_POLICY_FILE"`
	// AccountCacheTTLRaw is how long account records stay in the read-through cache.
	AccountCacheTTLRaw string `mapstructure:"ACCOUNT_CACHE_TTL"`

	// Telemetry (optional).
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the event stream.
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	// Worker-only: Loki URL for forwarding security events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event forwarder.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// SessionCleanupCron is the asynq scheduler spec for the refresh session sweep.
	SessionCleanupCron string `mapstructure:"SESSION_CLEANUP_CRON"`
	// SessionRetentionRaw is how long expired or revoked sessions are kept before deletion.
	SessionRetentionRaw string `mapstructure:"SESSION_RETENTION"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":8080",
	"UPSTREAM_URL":                "",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "redis://localhost:6379/0",
	"REDIS_TIMEOUT":               "500ms",
	"JWT_SECRET":                  "",
	"JWT_ISSUER":                  "edge-guard",
	"ACCESS_TOKEN_TTL_MINUTES":    3,
	"REFRESH_TOKEN_TTL":           "168h",
	"BCRYPT_COST":                 12,
	"ACCESS_TOKEN_COOKIE":         "access_token",
	"REFRESH_TOKEN_COOKIE":        "refresh_token",
	"COOKIE_SECURE":               true,
	"REVOCATION_ENABLED":          true,
	"REVOCATION_FAIL_CLOSED":      false,
	"TOKEN_FINGERPRINT_BINDING":   false,
	"RATE_LIMIT_ENABLED":          true,
	"ORIGIN_GUARD_ENABLED":        true,
	"ALLOWED_ORIGINS":             "",
	"ORIGIN_PROTECTED_PREFIX":     "/api/",
	"TRUST_FORWARDED_PROTO":       false,
	"SANITIZER_ENABLED":           true,
	"MAX_REQUEST_BODY_BYTES":      10 << 20,
	"ROUTE_POLICY_FILE":           "",
	"ACCOUNT_CACHE_TTL":           "5m",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SERVICE_NAME":           "edge-guard",
	"KAFKA_BROKERS":               "",
	"SECURITY_EVENTS_TOPIC":       "edge-guard-security-events",
	"LOKI_URL":                    "",
	"KAFKA_GROUP_ID":              "edge-guard-loki",
	"SESSION_CLEANUP_CRON":        "@every 1h",
	"SESSION_RETENTION":           "24h",
	"APP_ENV":                     "",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.JWTSecret) < MinJWTSecretLength {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if strings.TrimSpace(c.JWTIssuer) == "" {
		return errors.New("config: JWT_ISSUER must be set")
	}
	if c.AccessTokenTTLMinutes <= 0 {
		return errors.New("config: ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("config: MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.AccessTokenCookie == "" {
		return errors.New("config: ACCESS_TOKEN_COOKIE must be set")
	}
	if c.Env == "production" && !c.CookieSecure {
		return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}
	return nil
}

// AccessTTL returns the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTTL parses RefreshTokenTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.RefreshTokenTTL, 168*time.Hour)
}

// RedisTimeout parses RedisTimeoutRaw. Returns 500ms if unset or invalid.
func (c *Config) RedisTimeout() time.Duration {
	return parseDuration(c.RedisTimeoutRaw, 500*time.Millisecond)
}

// SessionRetention parses SessionRetentionRaw. Returns 24h if unset or invalid.
func (c *Config) SessionRetention() time.Duration {
	return parseDuration(c.SessionRetentionRaw, 24*time.Hour)
}

// AccountCacheTTL parses AccountCacheTTLRaw. Returns 5m if unset or invalid.
func (c *Config) AccountCacheTTL() time.Duration {
	return parseDuration(c.AccountCacheTTLRaw, 5*time.Minute)
}

// AllowedOriginsList returns the allow-listed origins from the comma-separated config.
func (c *Config) AllowedOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AllowedOrigins)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event stream is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
