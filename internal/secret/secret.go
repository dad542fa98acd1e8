// Package secret generates raw API key material and recognises it again.
//
// A raw key has the form "<tag>_<hex body>" where the body encodes
// BodyBytes bytes read from a cryptographically secure source. The leading
// PrefixLen characters of the token are stored in clear as a lookup index.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// BodyBytes is the number of random bytes in every key (256 bits).
	BodyBytes = 32

	// DefaultTag is the recognisable tag for keys issued by keysmith.
	DefaultTag = "ks"

	// DefaultPrefixLen is the number of leading characters stored as the
	// lookup prefix ("ks_" plus five hex characters).
	DefaultPrefixLen = 8

	// maxPrefixBody caps how much of the random body the prefix may expose.
	maxPrefixBody = 16
)

// ErrEntropyUnavailable is returned when the random source cannot supply
// the requested bytes. There is no fallback to a weaker source.
var ErrEntropyUnavailable = errors.New("secure random source unavailable")

// Secret is a freshly generated raw key together with its lookup prefix.
type Secret struct {
	Raw    string
	Prefix string
}

// Generator produces raw keys with a fixed tag and prefix length.
type Generator struct {
	tag       string
	prefixLen int
	rand      io.Reader
}

// New returns a Generator reading from crypto/rand. It rejects a prefix
// length that would not reach into the random body, or that would expose
// more than 16 hex characters of it.
func New(tag string, prefixLen int) (*Generator, error) {
	if tag == "" {
		return nil, errors.New("secret: tag must not be empty")
	}
	for _, c := range tag {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return nil, fmt.Errorf("secret: tag %q must be lowercase alphanumeric", tag)
		}
	}
	head := len(tag) + 1
	if prefixLen <= head || prefixLen > head+maxPrefixBody {
		return nil, fmt.Errorf("secret: prefix length %d out of range (%d..%d) for tag %q",
			prefixLen, head+1, head+maxPrefixBody, tag)
	}
	return &Generator{tag: tag, prefixLen: prefixLen, rand: rand.Reader}, nil
}

// WithRand returns a copy of g that reads entropy from r. Intended for tests.
func (g *Generator) WithRand(r io.Reader) *Generator {
	cp := *g
	cp.rand = r
	return &cp
}

// Tag returns the textual tag every key starts with.
func (g *Generator) Tag() string { return g.tag }

// PrefixLen returns the length of the stored lookup prefix.
func (g *Generator) PrefixLen() int { return g.prefixLen }

// Generate returns a new raw key and its prefix.
func (g *Generator) Generate() (Secret, error) {
	body := make([]byte, BodyBytes)
	if _, err := io.ReadFull(g.rand, body); err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	raw := g.tag + "_" + hex.EncodeToString(body)
	return Secret{Raw: raw, Prefix: raw[:g.prefixLen]}, nil
}

// Prefix validates that raw has the exact textual shape of a key issued by
// g and returns its lookup prefix. ok is false for anything else.
func (g *Generator) Prefix(raw string) (prefix string, ok bool) {
	if !g.wellFormed(raw) {
		return "", false
	}
	return raw[:g.prefixLen], true
}

func (g *Generator) wellFormed(raw string) bool {
	if len(raw) != len(g.tag)+1+2*BodyBytes {
		return false
	}
	if raw[:len(g.tag)] != g.tag || raw[len(g.tag)] != '_' {
		return false
	}
	return isLowerHex(raw[len(g.tag)+1:])
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
