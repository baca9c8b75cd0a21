package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// resetEnv clears the environment and sets the one required key.
func resetEnv(t *testing.T) {
	t.Helper()
	os.Clearenv()
	os.Setenv("JWT_SECRET", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "edge-guard" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "edge-guard")
	}
	if cfg.AccessTTL() != 3*time.Minute {
		t.Errorf("AccessTTL = %v, want 3m", cfg.AccessTTL())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.AccessTokenCookie != "access_token" {
		t.Errorf("AccessTokenCookie = %q", cfg.AccessTokenCookie)
	}
	if !cfg.RevocationEnabled || cfg.RevocationFailClosed {
		t.Errorf("revocation enabled=%v failClosed=%v, want true/false", cfg.RevocationEnabled, cfg.RevocationFailClosed)
	}
	if !cfg.RateLimitEnabled || !cfg.OriginGuardEnabled || !cfg.SanitizerEnabled {
		t.Error("rate limit, origin guard and sanitizer should default to enabled")
	}
	if cfg.MaxRequestBodyBytes != 10<<20 {
		t.Errorf("MaxRequestBodyBytes = %d, want %d", cfg.MaxRequestBodyBytes, 10<<20)
	}
	if cfg.OriginProtectedPrefix != "/api/" {
		t.Errorf("OriginProtectedPrefix = %q", cfg.OriginProtectedPrefix)
	}
	if cfg.SessionCleanupCron != "@every 1h" {
		t.Errorf("SessionCleanupCron = %q", cfg.SessionCleanupCron)
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	resetEnv(t)
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "5")
	os.Setenv("REVOCATION_FAIL_CLOSED", "true")
	os.Setenv("SANITIZER_ENABLED", "false")
	os.Setenv("MAX_REQUEST_BODY_BYTES", "2048")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q", cfg.JWTIssuer)
	}
	if cfg.AccessTTL() != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", cfg.AccessTTL())
	}
	if !cfg.RevocationFailClosed {
		t.Error("RevocationFailClosed should be true")
	}
	if cfg.SanitizerEnabled {
		t.Error("SanitizerEnabled should be false")
	}
	if cfg.MaxRequestBodyBytes != 2048 {
		t.Errorf("MaxRequestBodyBytes = %d", cfg.MaxRequestBodyBytes)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"short secret", map[string]string{"JWT_SECRET": "too-short"}, "JWT_SECRET"},
		{"zero ttl", map[string]string{"ACCESS_TOKEN_TTL_MINUTES": "0"}, "ACCESS_TOKEN_TTL_MINUTES"},
		{"negative ttl", map[string]string{"ACCESS_TOKEN_TTL_MINUTES": "-1"}, "ACCESS_TOKEN_TTL_MINUTES"},
		{"negative body limit", map[string]string{"MAX_REQUEST_BODY_BYTES": "-1"}, "MAX_REQUEST_BODY_BYTES"},
		{"insecure cookies in production", map[string]string{"APP_ENV": "production", "COOKIE_SECURE": "false"}, "COOKIE_SECURE"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
			if !strings.HasPrefix(err.Error(), "config: ") || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want config error mentioning %s", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetEnv(t)
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		got  func(*Config) time.Duration
		want time.Duration
	}{
		{"refresh valid", Config{RefreshTokenTTL: "336h"}, (*Config).RefreshTTL, 336 * time.Hour},
		{"refresh invalid", Config{RefreshTokenTTL: "invalid"}, (*Config).RefreshTTL, 168 * time.Hour},
		{"refresh negative", Config{RefreshTokenTTL: "-1h"}, (*Config).RefreshTTL, 168 * time.Hour},
		{"redis valid", Config{RedisTimeoutRaw: "2s"}, (*Config).RedisTimeout, 2 * time.Second},
		{"redis zero", Config{RedisTimeoutRaw: "0"}, (*Config).RedisTimeout, 500 * time.Millisecond},
		{"retention valid", Config{SessionRetentionRaw: "48h"}, (*Config).SessionRetention, 48 * time.Hour},
		{"retention empty", Config{}, (*Config).SessionRetention, 24 * time.Hour},
		{"account cache valid", Config{AccountCacheTTLRaw: "30s"}, (*Config).AccountCacheTTL, 30 * time.Second},
		{"account cache invalid", Config{AccountCacheTTLRaw: "soon"}, (*Config).AccountCacheTTL, 5 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.got(&tc.cfg); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestListAccessors(t *testing.T) {
	cfg := &Config{
		AllowedOrigins: " https://app.example.com, https://*.example.org ,,",
		KafkaBrokers:   "kafka-1:9092,kafka-2:9092",
	}
	if got, want := cfg.AllowedOriginsList(), []string{"https://app.example.com", "https://*.example.org"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedOriginsList = %v, want %v", got, want)
	}
	if got, want := cfg.KafkaBrokersList(), []string{"kafka-1:9092", "kafka-2:9092"}; !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokersList = %v, want %v", got, want)
	}
	var nilCfg *Config
	if nilCfg.AllowedOriginsList() != nil || nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should yield nil lists")
	}
}
