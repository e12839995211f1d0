package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
)

func TestContextResolver(test *testing.T) {
	test.Parallel()
	resolver := ContextResolver{}
	if _, err := resolver.CallerID(context.Background()); !errors.Is(err, ledger.ErrIdentity) {
		test.Fatalf("expected identity error, got %v", err)
	}
	callerID, err := resolver.CallerID(WithCaller(context.Background(), "alice"))
	if err != nil || callerID != "alice" {
		test.Fatalf("expected alice, got %q (%v)", callerID, err)
	}
	if _, err := resolver.CallerID(WithCaller(context.Background(), "")); !errors.Is(err, ledger.ErrIdentity) {
		test.Fatalf("expected identity error for empty caller, got %v", err)
	}
}

func TestTokenVerifierRoundTrip(test *testing.T) {
	test.Parallel()
	verifier := mustVerifier(test, "coins-gateway")
	token, err := verifier.Issue("alice", time.Hour, time.Now())
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	for _, raw := range []string{token, "Bearer " + token, "bearer " + token} {
		username, err := verifier.Verify(raw)
		if err != nil {
			test.Fatalf("verify %q: %v", raw, err)
		}
		if username != "alice" {
			test.Fatalf("expected alice, got %q", username)
		}
	}
}

func TestTokenVerifierRejections(test *testing.T) {
	test.Parallel()
	verifier := mustVerifier(test, "coins-gateway")
	otherIssuer := mustVerifier(test, "someone-else")
	foreignToken, err := otherIssuer.Issue("alice", time.Hour, time.Now())
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	expiredToken, err := verifier.Issue("alice", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	noUsername, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "coins-gateway",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret-key"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}
	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "alice",
		"iss":      "coins-gateway",
		"exp":      jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("another-key"))
	if err != nil {
		test.Fatalf("sign: %v", err)
	}

	testCases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"issuer":       foreignToken,
		"expired":      expiredToken,
		"no username":  noUsername,
		"wrong secret": wrongKey,
	}
	for name, raw := range testCases {
		if _, err := verifier.Verify(raw); !errors.Is(err, ledger.ErrIdentity) {
			test.Fatalf("%s: expected identity error, got %v", name, err)
		}
	}
}

func TestNewTokenVerifierRequiresKey(test *testing.T) {
	test.Parallel()
	if _, err := NewTokenVerifier(TokenConfig{}); !errors.Is(err, errInvalidTokenConfig) {
		test.Fatalf("expected invalid config, got %v", err)
	}
}

func mustVerifier(test *testing.T, issuer string) *TokenVerifier {
	test.Helper()
	verifier, err := NewTokenVerifier(TokenConfig{SigningKey: []byte("secret-key"), Issuer: issuer})
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	return verifier
}
