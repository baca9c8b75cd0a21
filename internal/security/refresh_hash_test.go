package security

import (
	"testing"
)

func TestHashRefreshToken_Consistent(t *testing.T) {
	token := "test-refresh-token-123"
	hash1 := HashRefreshToken(token)
	hash2 := HashRefreshToken(token)

	if hash1 != hash2 {
		t.Errorf("HashRefreshToken not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func TestHashRefreshToken_DifferentTokens(t *testing.T) {
	if HashRefreshToken("token-1") == HashRefreshToken("token-2") {
		t.Error("HashRefreshToken produced same hash for different tokens")
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	token := "test-refresh-token-456"
	stored := HashRefreshToken(token)
	if !RefreshTokenHashEqual(token, stored) {
		t.Error("RefreshTokenHashEqual should match its own hash")
	}
	if RefreshTokenHashEqual("other", stored) {
		t.Error("RefreshTokenHashEqual should not match a different token")
	}
	if RefreshTokenHashEqual(token, "") {
		t.Error("RefreshTokenHashEqual should not match empty stored hash")
	}
}

func TestNewRefreshToken(t *testing.T) {
	plain, hash, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if len(plain) != 43 {
		t.Errorf("plain length = %d, want 43 (32 bytes base64url)", len(plain))
	}
	if hash != HashRefreshToken(plain) {
		t.Error("hash does not match plain token")
	}
	plain2, _, _ := NewRefreshToken()
	if plain == plain2 {
		t.Error("NewRefreshToken returned the same token twice")
	}
}
