// ABOUTME: Bearer token verification for authenticating bridge requests
// ABOUTME: Supports HS256 JWTs and bcrypt-hashed static tokens

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (principalID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the principal ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (principalID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new JWT token for the given principal ID with expiration
func (v *JWTVerifier) Generate(principalID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principalID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// staticEntry pairs a bcrypt hash with its principal.
type staticEntry struct {
	principal string
	hash      []byte
}

// StaticVerifier implements TokenVerifier against a fixed set of
// bcrypt-hashed tokens provisioned in the config file.
type StaticVerifier struct {
	entries []staticEntry
}

// dummyHash keeps verification timing constant when no entry matches.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// NewStaticVerifier creates a verifier over principal/hash pairs.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	v := &StaticVerifier{}
	for principal, hash := range tokens {
		v.entries = append(v.entries, staticEntry{principal: principal, hash: []byte(hash)})
	}
	return v
}

// Verify compares the presented token against every stored hash.
func (v *StaticVerifier) Verify(tokenString string) (string, error) {
	for _, e := range v.entries {
		if bcrypt.CompareHashAndPassword(e.hash, []byte(tokenString)) == nil {
			return e.principal, nil
		}
	}
	// Dummy comparison to maintain constant timing
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(tokenString))
	return "", ErrInvalidToken
}

// HashToken produces a bcrypt hash suitable for auth.static_tokens config.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(hash), nil
}

// ChainVerifier tries each verifier in order and accepts the first match.
type ChainVerifier struct {
	verifiers []TokenVerifier
}

// NewChainVerifier composes verifiers; at least one is required.
func NewChainVerifier(verifiers ...TokenVerifier) (*ChainVerifier, error) {
	if len(verifiers) == 0 {
		return nil, errors.New("at least one verifier is required")
	}
	return &ChainVerifier{verifiers: verifiers}, nil
}

// Verify returns the first successful verification, or ErrInvalidToken.
func (c *ChainVerifier) Verify(tokenString string) (string, error) {
	for _, v := range c.verifiers {
		if principalID, err := v.Verify(tokenString); err == nil {
			return principalID, nil
		}
	}
	return "", ErrInvalidToken
}
