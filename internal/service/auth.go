package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OwnerAuth validates the bearer tokens the external identity layer hands
// to key owners. A token is an HS256 JWT whose subject is the owner id.
// keysmith only verifies these tokens; sessions live elsewhere.
type OwnerAuth struct {
	secret []byte
	issuer string
}

// NewOwnerAuth creates an OwnerAuth. When issuer is non-empty tokens must
// carry a matching iss claim.
func NewOwnerAuth(secret, issuer string) (*OwnerAuth, error) {
	if len(secret) < 16 {
		return nil, errors.New("owner auth: jwt secret must be at least 16 bytes")
	}
	return &OwnerAuth{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken verifies tokenStr and returns the owner id it names. Any
// failure returns ErrUnauthorized.
func (a *OwnerAuth) ValidateToken(ctx context.Context, tokenStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}
	if claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// IssueToken signs a token for ownerID. It exists for operators and tests;
// production tokens come from the identity layer.
func (a *OwnerAuth) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("owner id is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
