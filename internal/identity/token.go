package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultUsernameClaim is the claim carrying the caller id in gateway tokens.
const DefaultUsernameClaim = "username"

var errInvalidTokenConfig = errors.New("invalid token config")

// TokenConfig configures TokenVerifier.
type TokenConfig struct {
	SigningKey    []byte
	Issuer        string
	UsernameClaim string
}

// TokenVerifier validates HS256 bearer tokens and extracts the caller id.
type TokenVerifier struct {
	signingKey    []byte
	issuer        string
	usernameClaim string
	parser        *jwt.Parser
}

// NewTokenVerifier validates cfg and returns a verifier.
func NewTokenVerifier(cfg TokenConfig) (*TokenVerifier, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", errInvalidTokenConfig)
	}
	usernameClaim := cfg.UsernameClaim
	if usernameClaim == "" {
		usernameClaim = DefaultUsernameClaim
	}
	parserOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(cfg.Issuer))
	}
	return &TokenVerifier{
		signingKey:    cfg.SigningKey,
		issuer:        cfg.Issuer,
		usernameClaim: usernameClaim,
		parser:        jwt.NewParser(parserOptions...),
	}, nil
}

// Verify parses a raw token (optionally prefixed with "Bearer ") and returns the caller id.
func (verifier *TokenVerifier) Verify(rawToken string) (string, error) {
	tokenString := strings.TrimSpace(rawToken)
	if len(tokenString) > len("Bearer ") && strings.EqualFold(tokenString[:len("Bearer ")], "Bearer ") {
		tokenString = strings.TrimSpace(tokenString[len("Bearer "):])
	}
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", ledger.ErrIdentity)
	}
	claims := jwt.MapClaims{}
	_, err := verifier.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return verifier.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrIdentity, err)
	}
	username, _ := claims[verifier.usernameClaim].(string)
	if strings.TrimSpace(username) == "" {
		return "", fmt.Errorf("%w: token has no %s claim", ledger.ErrIdentity, verifier.usernameClaim)
	}
	return username, nil
}

// Issue signs a token for username valid for ttl.
func (verifier *TokenVerifier) Issue(username string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", fmt.Errorf("%w: username is required", ledger.ErrMalformedRequest)
	}
	claims := jwt.MapClaims{
		verifier.usernameClaim: username,
		"iat":                  jwt.NewNumericDate(now.UTC()),
		"exp":                  jwt.NewNumericDate(now.UTC().Add(ttl)),
	}
	if verifier.issuer != "" {
		claims["iss"] = verifier.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(verifier.signingKey)
}
