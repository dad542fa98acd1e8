package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/secret"
	"github.com/faucetdb/keysmith/internal/store"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// DefaultMaxNameLength is the longest accepted key label, in characters.
const DefaultMaxNameLength = 128

// maxGenerateAttempts bounds how often Issue draws a new key when the
// prefix group of the previous draw is already at the candidate limit.
const maxGenerateAttempts = 8

// IssuanceConfig holds the owner-facing limits of the issuance service.
type IssuanceConfig struct {
	MaxNameLength int
	// MaxKeysPerOwner caps how many keys one owner may hold. Zero means
	// unlimited. The cap is exact within one process; replicas sharing a
	// database can each admit one key past it under concurrent issuance.
	MaxKeysPerOwner int
}

// IssuanceService creates credentials and serves the owner-scoped
// list, rename and delete operations.
type IssuanceService struct {
	cfg     IssuanceConfig
	gen     *secret.Generator
	hasher  *hasher.Hasher
	store   CredentialStore
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	owners   stripes
	prefixes stripes
}

// NewIssuanceService creates an IssuanceService.
func NewIssuanceService(cfg IssuanceConfig, gen *secret.Generator, h *hasher.Hasher, store CredentialStore, logger *slog.Logger, metrics *telemetry.Metrics) *IssuanceService {
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}
	return &IssuanceService{
		cfg:     cfg,
		gen:     gen,
		hasher:  h,
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Issue generates, hashes and stores a new credential for req.OwnerID.
//
// The returned IssueResult.SecretOnce is the only copy of the raw key the
// system will ever produce. If the store write fails nothing is returned
// and no record remains.
func (s *IssuanceService) Issue(ctx context.Context, req model.IssueRequest) (*model.IssueResult, error) {
	if req.OwnerID == "" {
		return nil, ErrUnauthorized
	}
	name, err := s.validateName(req.Name)
	if err != nil {
		return nil, err
	}

	// Owner stripe first, then prefix stripe.
	unlockOwner := s.owners.lock(req.OwnerID)
	defer unlockOwner()

	if s.cfg.MaxKeysPerOwner > 0 {
		n, err := s.store.CountByOwner(ctx, req.OwnerID)
		if err != nil {
			s.logger.Error("failed to count api keys", "owner_id", req.OwnerID, "error", err)
			return nil, ErrPersistence
		}
		if n >= s.cfg.MaxKeysPerOwner {
			return nil, &ValidationError{Field: "keys", Message: fmt.Sprintf("key limit of %d reached", s.cfg.MaxKeysPerOwner)}
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.logger.Error("failed to generate api key id", "error", err)
		return nil, ErrInternal
	}

	limit := s.store.CandidateLimit()
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		sec, err := s.gen.Generate()
		if err != nil {
			s.logger.Error("failed to generate api key", "error", err)
			return nil, ErrInternal
		}

		digest, err := s.hasher.Hash(ctx, sec.Raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrInternal, ctx.Err())
			}
			s.logger.Error("failed to hash api key", "error", err)
			return nil, ErrInternal
		}

		cred := &model.Credential{
			ID:            id.String(),
			OwnerID:       req.OwnerID,
			Name:          name,
			KeyPrefix:     sec.Prefix,
			SecretDigest:  digest.Value,
			DigestVersion: digest.Version,
			CreatedAt:     s.now().UTC().Truncate(time.Microsecond),
		}

		meta, inserted, err := s.insertIfRoom(ctx, cred, limit)
		if err != nil {
			s.logger.Error("failed to save api key", "owner_id", req.OwnerID, "error", err)
			return nil, ErrPersistence
		}
		if !inserted {
			s.logger.Warn("api key prefix group full, drawing a new key", "prefix", sec.Prefix, "attempt", attempt)
			continue
		}

		s.metrics.Issued()
		s.logger.Info("api key issued", "key_id", meta.ID, "owner_id", meta.OwnerID, "prefix", meta.KeyPrefix)

		return &model.IssueResult{CredentialMeta: meta, SecretOnce: sec.Raw}, nil
	}

	s.logger.Error("no api key prefix with free candidate slots", "owner_id", req.OwnerID, "attempts", maxGenerateAttempts)
	return nil, ErrInternal
}

// insertIfRoom stores cred unless its prefix group already holds limit
// records. A key stored past the limit would never be returned to Verify.
func (s *IssuanceService) insertIfRoom(ctx context.Context, cred *model.Credential, limit int) (model.CredentialMeta, bool, error) {
	unlock := s.prefixes.lock(cred.KeyPrefix)
	defer unlock()

	n, err := s.store.CountByPrefix(ctx, cred.KeyPrefix)
	if err != nil {
		return model.CredentialMeta{}, false, err
	}
	if n >= limit {
		return model.CredentialMeta{}, false, nil
	}
	meta, err := s.store.Insert(ctx, cred)
	if err != nil {
		return model.CredentialMeta{}, false, err
	}
	return meta, true, nil
}

// stripes is a fixed set of mutexes selected by key hash.
type stripes [64]sync.Mutex

func (st *stripes) lock(key string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &st[h.Sum32()%uint32(len(st))]
	m.Lock()
	return m.Unlock
}

// List returns the metadata of every credential owned by req.OwnerID.
func (s *IssuanceService) List(ctx context.Context, req model.ListRequest) ([]model.CredentialMeta, error) {
	if req.OwnerID == "" {
		return nil, ErrUnauthorized
	}
	keys, err := s.store.ListByOwner(ctx, req.OwnerID)
	if err != nil {
		s.logger.Error("failed to list api keys", "owner_id", req.OwnerID, "error", err)
		return nil, ErrPersistence
	}
	return keys, nil
}

// Delete removes credential req.ID if req.OwnerID owns it. A missing key and
// a key owned by someone else both return ErrNotFoundOrForbidden.
func (s *IssuanceService) Delete(ctx context.Context, req model.DeleteRequest) error {
	if req.OwnerID == "" {
		return ErrUnauthorized
	}
	if req.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	ok, err := s.store.DeleteByID(ctx, req.ID, req.OwnerID)
	if err != nil {
		s.logger.Error("failed to delete api key", "key_id", req.ID, "owner_id", req.OwnerID, "error", err)
		return ErrPersistence
	}
	if !ok {
		return ErrNotFoundOrForbidden
	}
	s.metrics.Deleted()
	s.logger.Info("api key deleted", "key_id", req.ID, "owner_id", req.OwnerID)
	return nil
}

// Rename changes the label of a credential owned by req.OwnerID.
func (s *IssuanceService) Rename(ctx context.Context, req model.RenameRequest) (model.CredentialMeta, error) {
	if req.OwnerID == "" {
		return model.CredentialMeta{}, ErrUnauthorized
	}
	if req.ID == "" {
		return model.CredentialMeta{}, &ValidationError{Field: "id", Message: "id is required"}
	}
	name, err := s.validateName(req.Name)
	if err != nil {
		return model.CredentialMeta{}, err
	}
	meta, err := s.store.Rename(ctx, req.ID, req.OwnerID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.CredentialMeta{}, ErrNotFoundOrForbidden
		}
		s.logger.Error("failed to rename api key", "key_id", req.ID, "owner_id", req.OwnerID, "error", err)
		return model.CredentialMeta{}, ErrPersistence
	}
	return meta, nil
}

func (s *IssuanceService) validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) > s.cfg.MaxNameLength {
		return "", &ValidationError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", s.cfg.MaxNameLength)}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", &ValidationError{Field: "name", Message: "name must not contain control characters"}
		}
	}
	return name, nil
}
