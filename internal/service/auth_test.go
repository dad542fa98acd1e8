package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret-0123456789"

func TestOwnerTokenRoundtrip(t *testing.T) {
	auth, err := NewOwnerAuth(testJWTSecret, "keysmith")
	if err != nil {
		t.Fatalf("NewOwnerAuth: %v", err)
	}

	tok, err := auth.IssueToken("U1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	owner, err := auth.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if owner != "U1" {
		t.Errorf("owner: got %q, want U1", owner)
	}
}

func TestOwnerTokenRejections(t *testing.T) {
	auth, err := NewOwnerAuth(testJWTSecret, "keysmith")
	if err != nil {
		t.Fatalf("NewOwnerAuth: %v", err)
	}
	now := time.Now()

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "U1",
		Issuer:    "keysmith",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExp := valid
	noExp.ExpiresAt = nil
	wrongIss := valid
	wrongIss.Issuer = "someone-else"
	noSub := valid
	noSub.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret-0123456"), valid)},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte(testJWTSecret), valid)},
		{"none algorithm", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testJWTSecret), expired)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte(testJWTSecret), noExp)},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte(testJWTSecret), wrongIss)},
		{"no subject", sign(jwt.SigningMethodHS256, []byte(testJWTSecret), noSub)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.ValidateToken(context.Background(), tt.token); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestNewOwnerAuthShortSecret(t *testing.T) {
	if _, err := NewOwnerAuth("short", ""); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestIssueTokenRequiresOwner(t *testing.T) {
	auth, _ := NewOwnerAuth(testJWTSecret, "")
	if _, err := auth.IssueToken("", time.Hour); err == nil {
		t.Fatal("expected error for empty owner")
	}
}
