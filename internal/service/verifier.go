package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/secret"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

// Verifier resolves a presented raw API key to the identity of its owner.
type Verifier struct {
	gen     *secret.Generator
	hasher  *hasher.Hasher
	store   CredentialStore
	toucher *Toucher
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewVerifier creates a Verifier. toucher may be nil, in which case
// last-used timestamps are not recorded.
func NewVerifier(gen *secret.Generator, h *hasher.Hasher, store CredentialStore, toucher *Toucher, logger *slog.Logger, metrics *telemetry.Metrics) *Verifier {
	return &Verifier{
		gen:     gen,
		hasher:  h,
		store:   store,
		toucher: toucher,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Verify checks presented against the stored digests sharing its prefix.
//
// Every rejection returns ErrUnauthorized. An unknown prefix and a wrong
// secret for a known prefix both cost one key derivation, so neither the
// error nor the timing tells them apart. A stored record with a corrupt
// digest still costs one. A malformed key is rejected before any store
// lookup.
func (v *Verifier) Verify(ctx context.Context, presented string) (model.Identity, error) {
	prefix, ok := v.gen.Prefix(presented)
	if !ok {
		v.metrics.Verification(telemetry.ResultMalformed)
		return model.Identity{}, ErrUnauthorized
	}

	candidates, err := v.store.FindCandidatesByPrefix(ctx, prefix)
	if err != nil {
		v.logger.Error("api key lookup failed", "prefix", prefix, "error", err)
		v.metrics.Verification(telemetry.ResultError)
		return model.Identity{}, ErrPersistence
	}

	if len(candidates) == 0 {
		if _, err := v.hasher.Verify(ctx, presented, v.hasher.Decoy()); err != nil && ctx.Err() != nil {
			return model.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ctx.Err())
		}
		v.metrics.Verification(telemetry.ResultRejected)
		return model.Identity{}, ErrUnauthorized
	}

	for i := range candidates {
		c := &candidates[i]
		match, err := v.hasher.Verify(ctx, presented, hasher.Digest{Value: c.SecretDigest, Version: c.DigestVersion})
		if err != nil {
			if ctx.Err() != nil {
				return model.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ctx.Err())
			}
			if errors.Is(err, hasher.ErrMalformedDigest) || errors.Is(err, hasher.ErrUnknownVersion) {
				v.logger.Warn("stored api key digest failed integrity check", "key_id", c.ID, "error", err)
				v.metrics.IntegrityWarning()
				// Spend the derivation the record would have cost.
				if _, err := v.hasher.Verify(ctx, presented, v.hasher.Decoy()); err != nil && ctx.Err() != nil {
					return model.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ctx.Err())
				}
				continue
			}
			v.logger.Error("api key derivation failed", "key_id", c.ID, "error", err)
			continue
		}
		if !match {
			continue
		}

		if v.toucher != nil {
			v.toucher.Touch(c.ID, v.now().UTC())
		}
		v.metrics.Verification(telemetry.ResultAccepted)
		return model.Identity{OwnerID: c.OwnerID, CredentialID: c.ID}, nil
	}

	v.metrics.Verification(telemetry.ResultRejected)
	return model.Identity{}, ErrUnauthorized
}
