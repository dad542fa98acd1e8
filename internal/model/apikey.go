package model

import "time"

// Credential is a stored API key record. The raw key is never stored; only
// a salted scrypt digest and a short clear-text prefix used as a lookup
// index are persisted.
//
// Credential carries the digest and must not cross the trust boundary. Use
// Meta for anything returned to a caller.
type Credential struct {
	ID            string     `db:"id"`
	OwnerID       string     `db:"owner_id"`
	Name          string     `db:"name"`
	KeyPrefix     string     `db:"key_prefix"`
	SecretDigest  string     `db:"secret_digest"`  // "<salt-hex>:<hash-hex>", never expose
	DigestVersion int        `db:"digest_version"` // hash parameter set that produced SecretDigest
	CreatedAt     time.Time  `db:"created_at"`
	LastUsedAt    *time.Time `db:"last_used_at"`
}

// Meta returns the metadata-only projection of c.
func (c *Credential) Meta() CredentialMeta {
	return CredentialMeta{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		Name:       c.Name,
		KeyPrefix:  c.KeyPrefix,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

// CredentialMeta is the non-secret view of a credential returned by listing
// and every other owner-facing read.
type CredentialMeta struct {
	ID         string     `json:"id" db:"id"`
	OwnerID    string     `json:"-" db:"owner_id"`
	Name       string     `json:"name" db:"name"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IssueRequest asks for a new credential on behalf of OwnerID.
type IssueRequest struct {
	OwnerID string
	Name    string
}

// IssueResult is returned exactly once per credential, at creation.
//
// SecretOnce is the raw key. It is never stored and cannot be fetched again;
// later reads only ever return CredentialMeta.
type IssueResult struct {
	CredentialMeta
	SecretOnce string
}

// ListRequest lists the credentials owned by OwnerID.
type ListRequest struct {
	OwnerID string
}

// DeleteRequest deletes credential ID if, and only if, OwnerID owns it.
type DeleteRequest struct {
	OwnerID string
	ID      string
}

// RenameRequest changes the label of credential ID owned by OwnerID.
type RenameRequest struct {
	OwnerID string
	ID      string
	Name    string
}

// Identity is the authenticated principal resolved from a presented key.
type Identity struct {
	OwnerID      string
	CredentialID string
}
