// Package identity issues and verifies operator credentials for the ledger
// API. The sandbox uses HS256 service tokens signed with a shared secret;
// a bcrypt-hashed static operator secret is accepted as a fallback for
// scripted access.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a presented credential cannot be verified.
var ErrInvalidToken = errors.New("invalid or expired token")

// OperatorClaims are the JWT claims for a ledger operator token. The
// Subject doubles as the actor identifier recorded on ledger entries.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Actor string `json:"actor"`
}

// TokenIssuer issues and verifies operator JWTs with an HS256 shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL — the "iss" claim value; matches the server's base URL.
//	ttl       — token lifetime (default: 24 hours).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed operator token for the given actor.
func (t *TokenIssuer) Issue(actor string) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Actor: actor,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the actor it names.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	actor := claims.Actor
	if actor == "" {
		actor = claims.Subject
	}
	if actor == "" {
		return "", ErrInvalidToken
	}
	return actor, nil
}

// StaticSecret verifies a plaintext credential against a bcrypt hash. An
// operator configured this way acts under the fixed Actor name.
type StaticSecret struct {
	Hash  string
	Actor string
}

// Verify reports whether the presented secret matches.
func (s StaticSecret) Verify(secret string) bool {
	if s.Hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.Hash), []byte(secret)) == nil
}

// HashSecret bcrypt-hashes a plaintext operator secret for configuration.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
