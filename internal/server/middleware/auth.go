package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal types.
const (
	PrincipalOwner  = "owner"
	PrincipalAPIKey = "api_key"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type    string // PrincipalOwner or PrincipalAPIKey
	OwnerID string
	KeyID   string // set for PrincipalAPIKey only
}

// TokenValidator resolves an owner session token to an owner id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// KeyVerifier resolves a raw API key to its identity.
type KeyVerifier interface {
	Verify(ctx context.Context, presented string) (model.Identity, error)
}

// AuthenticateOwner returns an HTTP middleware that requires an owner
// session token in the Authorization header. Key management routes sit
// behind it; an API key is never accepted here.
func AuthenticateOwner(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}
			ownerID, err := tokens.ValidateToken(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Type:    PrincipalOwner,
				OwnerID: ownerID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticateAPIKey returns an HTTP middleware that verifies a raw API key
// taken from the X-API-Key header, or from an Authorization Bearer value
// that starts with tag followed by an underscore.
func AuthenticateAPIKey(keys KeyVerifier, tag string) func(http.Handler) http.Handler {
	marker := tag + "_"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				if token, ok := bearerToken(r); ok && strings.HasPrefix(token, marker) {
					presented = token
				}
			}
			if presented == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer API key.")
				return
			}

			id, err := keys.Verify(r.Context(), presented)
			if err != nil {
				if errors.Is(err, service.ErrPersistence) || errors.Is(err, service.ErrInternal) {
					writeAuthError(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{
				Type:    PrincipalAPIKey,
				OwnerID: id.OwnerID,
				KeyID:   id.CredentialID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
