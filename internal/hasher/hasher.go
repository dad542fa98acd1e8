// Package hasher derives storage-safe digests of raw API keys.
//
// Digests are produced with scrypt and a fresh random salt per key, and are
// persisted as "<salt-hex>:<hash-hex>". The parameter set that produced a
// digest is identified by a small integer version stored next to it, so the
// work factor can be raised without invalidating keys already issued.
package hasher

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrMalformedDigest is returned when a stored digest cannot be split
	// into its salt and hash components.
	ErrMalformedDigest = errors.New("malformed digest")

	// ErrUnknownVersion is returned for a digest version with no registered
	// parameter set.
	ErrUnknownVersion = errors.New("unknown digest version")

	// ErrEntropyUnavailable is returned when a salt cannot be read from the
	// secure random source.
	ErrEntropyUnavailable = errors.New("secure random source unavailable")
)

// Params is one versioned scrypt parameter set.
type Params struct {
	Version int
	N       int
	R       int
	P       int
	KeyLen  int
	SaltLen int
}

// DefaultParams lists every parameter set this build can verify. Entries are
// never removed or changed once released; raise the work factor by adding a
// higher version.
//
// Version 1 costs 32 MiB of memory (128 * N * r bytes) and roughly 50-100ms
// of CPU per derivation on current server hardware.
var DefaultParams = map[int]Params{
	1: {Version: 1, N: 1 << 15, R: 8, P: 1, KeyLen: 32, SaltLen: 16},
}

// CurrentVersion is the parameter version used for new digests by default.
const CurrentVersion = 1

// Digest is a persisted digest value and the parameter version behind it.
type Digest struct {
	Value   string
	Version int
}

// Observer receives the wall time of each derivation.
type Observer func(time.Duration)

// Hasher hashes and verifies raw keys. It is safe for concurrent use.
type Hasher struct {
	params  map[int]Params
	current Params
	sem     *semaphore.Weighted
	rand    io.Reader
	observe Observer
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithParams replaces the registered parameter table.
func WithParams(params map[int]Params) Option {
	return func(h *Hasher) { h.params = params }
}

// WithMaxConcurrent bounds the number of derivations running at once.
func WithMaxConcurrent(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRand sets the salt source. Intended for tests.
func WithRand(r io.Reader) Option {
	return func(h *Hasher) { h.rand = r }
}

// WithObserver registers a callback invoked after every derivation.
func WithObserver(fn Observer) Option {
	return func(h *Hasher) { h.observe = fn }
}

// New returns a Hasher producing digests with the given parameter version.
func New(version int, opts ...Option) (*Hasher, error) {
	h := &Hasher{
		params: DefaultParams,
		sem:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(h)
	}

	p, ok := h.params[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("digest version %d: %w", version, err)
	}
	h.current = p
	return h, nil
}

// Version returns the parameter version used by Hash.
func (h *Hasher) Version() int { return h.current.Version }

// NeedsRehash reports whether a digest made with version is weaker than the
// current parameter set.
func (h *Hasher) NeedsRehash(version int) bool { return version < h.current.Version }

// Hash derives a new digest of raw using a fresh salt.
func (h *Hasher) Hash(ctx context.Context, raw string) (Digest, error) {
	salt := make([]byte, h.current.SaltLen)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	sum, err := h.derive(ctx, raw, salt, h.current)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Value: Format(salt, sum), Version: h.current.Version}, nil
}

// Verify recomputes the digest of raw with the salt stored in digest and
// compares it in constant time. A malformed digest or unknown version is
// returned as an error with ok false.
func (h *Hasher) Verify(ctx context.Context, raw string, digest Digest) (bool, error) {
	p, ok := h.params[digest.Version]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownVersion, digest.Version)
	}
	salt, want, err := Parse(digest.Value)
	if err != nil {
		return false, err
	}
	if len(salt) != p.SaltLen || len(want) != p.KeyLen {
		return false, fmt.Errorf("%w: component lengths do not match version %d", ErrMalformedDigest, p.Version)
	}
	got, err := h.derive(ctx, raw, salt, p)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Decoy returns a well-formed digest of the current version that no raw key
// will match. Callers verify against it to equalise the cost of rejections.
func (h *Hasher) Decoy() Digest {
	salt := make([]byte, h.current.SaltLen)
	sum := make([]byte, h.current.KeyLen)
	return Digest{Value: Format(salt, sum), Version: h.current.Version}
}

// derive waits for a derivation slot, honouring ctx while waiting. The
// derivation itself runs to completion.
func (h *Hasher) derive(ctx context.Context, raw string, salt []byte, p Params) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	start := time.Now()
	sum, err := Derive(raw, salt, p)
	if h.observe != nil {
		h.observe(time.Since(start))
	}
	return sum, err
}

// Derive computes the scrypt output for raw and salt under p. It is
// deterministic.
func Derive(raw string, salt []byte, p Params) ([]byte, error) {
	sum, err := scrypt.Key([]byte(raw), salt, p.N, p.R, p.P, p.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return sum, nil
}

// Format renders salt and hash in the persisted "<salt-hex>:<hash-hex>" form.
func Format(salt, sum []byte) string {
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum)
}

// Parse splits a persisted digest into its salt and hash bytes.
func Parse(digest string) (salt, sum []byte, err error) {
	saltHex, sumHex, ok := strings.Cut(digest, ":")
	if !ok || saltHex == "" || sumHex == "" || strings.Contains(sumHex, ":") {
		return nil, nil, ErrMalformedDigest
	}
	if salt, err = hex.DecodeString(saltHex); err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedDigest, err)
	}
	if sum, err = hex.DecodeString(sumHex); err != nil {
		return nil, nil, fmt.Errorf("%w: hash: %v", ErrMalformedDigest, err)
	}
	return salt, sum, nil
}

func (p Params) validate() error {
	switch {
	case p.N <= 1 || p.N&(p.N-1) != 0:
		return fmt.Errorf("N must be a power of two greater than 1, got %d", p.N)
	case p.R <= 0 || p.P <= 0:
		return fmt.Errorf("r and p must be positive")
	case p.SaltLen < 16:
		return fmt.Errorf("salt must be at least 16 bytes, got %d", p.SaltLen)
	case p.KeyLen < 16:
		return fmt.Errorf("key length must be at least 16 bytes, got %d", p.KeyLen)
	}
	return nil
}
