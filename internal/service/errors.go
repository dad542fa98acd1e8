package service

import (
	"errors"

	"github.com/faucetdb/keysmith/internal/hasher"
)

// Error kinds returned across the service boundary. Every internal failure
// is normalised to one of these before it leaves the package, so storage
// and crypto error strings never reach a caller.
var (
	// ErrUnauthorized covers a missing or invalid caller identity and every
	// rejected API key. It carries no detail.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFoundOrForbidden is returned when a credential is missing or
	// belongs to another owner. The two are deliberately indistinguishable.
	ErrNotFoundOrForbidden = errors.New("not found")

	// ErrPersistence is returned when the store is unavailable or a write
	// failed.
	ErrPersistence = errors.New("persistence failure")

	// ErrInternal is returned when key material or a salt could not be
	// generated.
	ErrInternal = errors.New("internal error")

	// ErrMalformedDigest marks a corrupt stored digest. The verifier treats
	// it as a mismatch and never returns it to callers.
	ErrMalformedDigest = hasher.ErrMalformedDigest
)

// ValidationError reports a missing or invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
