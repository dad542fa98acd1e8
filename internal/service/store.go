package service

import (
	"context"
	"time"

	"github.com/faucetdb/keysmith/internal/model"
)

// CredentialStore is the persistence the issuance service and verifier need.
// *store.Store implements it.
type CredentialStore interface {
	Insert(ctx context.Context, cred *model.Credential) (model.CredentialMeta, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.CredentialMeta, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	CountByPrefix(ctx context.Context, prefix string) (int, error)
	FindCandidatesByPrefix(ctx context.Context, prefix string) ([]model.Credential, error)
	// CandidateLimit is the most records FindCandidatesByPrefix returns.
	CandidateLimit() int
	DeleteByID(ctx context.Context, id, ownerID string) (bool, error)
	Rename(ctx context.Context, id, ownerID, name string) (model.CredentialMeta, error)
	LastUsedStore
}

// LastUsedStore records when a credential last authenticated a request.
type LastUsedStore interface {
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
