// Package store persists hashed API key credentials.
//
// Every read and delete that can reach a caller is scoped by owner. The one
// unscoped read, FindCandidatesByPrefix, returns digests and exists only for
// the verifier.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/keysmith/internal/model"
)

// ErrNotFound is returned when a credential does not exist or is not
// owned by the requesting owner. The two cases are never distinguished.
var ErrNotFound = errors.New("not found")

// DefaultCandidateLimit bounds how many rows FindCandidatesByPrefix returns.
const DefaultCandidateLimit = 16

const metaColumns = "id, owner_id, name, key_prefix, last_used_at, created_at"

const allColumns = "id, owner_id, name, key_prefix, secret_digest, digest_version, created_at, last_used_at"

// Config selects the backing database.
type Config struct {
	// Driver is one of sqlite, postgres, mysql or sqlserver.
	Driver string
	// DSN is the driver-specific connection string. For sqlite it may be
	// left empty, in which case DataDir decides the location.
	DSN string
	// DataDir holds keysmith.db for sqlite. Empty means in-memory.
	DataDir string
	// CandidateLimit caps prefix lookups. Zero means DefaultCandidateLimit.
	CandidateLimit int
	// MaxOpenConns is applied to non-sqlite pools when positive.
	MaxOpenConns int
}

// Store is the credential store backed by a SQL database.
type Store struct {
	db             *sqlx.DB
	dialect        dialect
	candidateLimit int
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(Config{Driver: "sqlite", DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == "sqlite" && dsn == "" {
		if dsn, err = sqliteDSN(cfg.DataDir); err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required for driver %s", d.name)
	}
	if d.name == "mysql" {
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := newStore(db, d, cfg.CandidateLimit)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sqlx.DB, driver string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, 0), nil
}

func newStore(db *sqlx.DB, d dialect, candidateLimit int) *Store {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Store{db: db, dialect: d, candidateLimit: candidateLimit}
}

// sqliteDSN builds a modernc.org/sqlite DSN. secure_delete zeroes freed
// pages so deleted digests do not linger in the database file.
func sqliteDSN(dataDir string) (string, error) {
	if dataDir == "" {
		return ":memory:?_pragma=secure_delete(1)", nil
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "keysmith.db")
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=secure_delete(1)", nil
}

// Driver returns the dialect name of the backing database.
func (s *Store) Driver() string { return s.dialect.name }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, strings.TrimSpace(m))
		}
	}
	return nil
}

// Insert persists a new credential in a single statement and returns its
// metadata. ID and CreatedAt must already be set.
func (s *Store) Insert(ctx context.Context, cred *model.Credential) (model.CredentialMeta, error) {
	if cred.ID == "" || cred.OwnerID == "" {
		return model.CredentialMeta{}, errors.New("insert api key: id and owner_id are required")
	}

	const q = `INSERT INTO api_keys
		(id, owner_id, name, key_prefix, secret_digest, digest_version, created_at, last_used_at)
		VALUES
		(:id, :owner_id, :name, :key_prefix, :secret_digest, :digest_version, :created_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, cred); err != nil {
		return model.CredentialMeta{}, fmt.Errorf("insert api key: %w", err)
	}
	return cred.Meta(), nil
}

// ListByOwner returns the metadata of every credential owned by ownerID,
// oldest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]model.CredentialMeta, error) {
	q := s.db.Rebind("SELECT " + metaColumns + " FROM api_keys WHERE owner_id = ? ORDER BY created_at, id")

	keys := []model.CredentialMeta{}
	if err := s.db.SelectContext(ctx, &keys, q, ownerID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// CountByOwner returns how many credentials ownerID holds.
func (s *Store) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	q := s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE owner_id = ?")
	if err := s.db.GetContext(ctx, &n, q, ownerID); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// CountByPrefix returns how many credentials share prefix.
func (s *Store) CountByPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	q := s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE key_prefix = ?")
	if err := s.db.GetContext(ctx, &n, q, prefix); err != nil {
		return 0, fmt.Errorf("count api keys by prefix: %w", err)
	}
	return n, nil
}

// CandidateLimit returns the cap FindCandidatesByPrefix applies.
func (s *Store) CandidateLimit() int { return s.candidateLimit }

// GetByID returns the metadata of credential id owned by ownerID.
func (s *Store) GetByID(ctx context.Context, id, ownerID string) (model.CredentialMeta, error) {
	var meta model.CredentialMeta
	q := s.db.Rebind("SELECT " + metaColumns + " FROM api_keys WHERE id = ? AND owner_id = ?")
	if err := s.db.GetContext(ctx, &meta, q, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CredentialMeta{}, ErrNotFound
		}
		return model.CredentialMeta{}, fmt.Errorf("get api key: %w", err)
	}
	return meta, nil
}

// FindCandidatesByPrefix returns the full records, digests included, whose
// prefix equals prefix. The result is capped at the configured candidate
// limit. Only the verifier may call this.
func (s *Store) FindCandidatesByPrefix(ctx context.Context, prefix string) ([]model.Credential, error) {
	q := s.db.Rebind(s.dialect.limit(allColumns, "key_prefix = ?", "created_at, id", s.candidateLimit))

	var creds []model.Credential
	if err := s.db.SelectContext(ctx, &creds, q, prefix); err != nil {
		return nil, fmt.Errorf("find api keys by prefix: %w", err)
	}
	return creds, nil
}

// DeleteByID removes credential id if it belongs to ownerID. It reports
// false, without error, when nothing matched; a missing record and one owned
// by someone else look the same.
func (s *Store) DeleteByID(ctx context.Context, id, ownerID string) (bool, error) {
	q := s.db.Rebind("DELETE FROM api_keys WHERE id = ? AND owner_id = ?")
	result, err := s.db.ExecContext(ctx, q, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete api key rows affected: %w", err)
	}
	return n > 0, nil
}

// Rename changes the label of credential id owned by ownerID.
func (s *Store) Rename(ctx context.Context, id, ownerID, name string) (model.CredentialMeta, error) {
	q := s.db.Rebind("UPDATE api_keys SET name = ? WHERE id = ? AND owner_id = ?")
	result, err := s.db.ExecContext(ctx, q, name, id, ownerID)
	if err != nil {
		return model.CredentialMeta{}, fmt.Errorf("rename api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.CredentialMeta{}, fmt.Errorf("rename api key rows affected: %w", err)
	}
	if n == 0 {
		return model.CredentialMeta{}, ErrNotFound
	}
	return s.GetByID(ctx, id, ownerID)
}

// TouchLastUsed sets the last_used_at timestamp for a credential. A missing
// row is not an error.
func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}
