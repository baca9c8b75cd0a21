package security

import "time"

// TestSecret is a 32+ byte signing secret for unit tests only. Do not use in production.
const TestSecret = "test-secret-for-unit-tests-only-0123456789"

// TestIssuerName is the iss claim used by NewTestIssuer.
const TestIssuerName = "test-issuer"

// NewTestIssuer returns an Issuer with TestSecret, TestIssuerName, and the default TTL.
// now overrides the clock when non-nil. For unit tests only.
func NewTestIssuer(now func() time.Time) *Issuer {
	i, err := NewIssuer(TestSecret, TestIssuerName, DefaultAccessTTL)
	if err != nil {
		panic(err)
	}
	if now != nil {
		i.now = now
	}
	return i
}
