package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// ErrHashUnavailable reports that the digest primitive could not produce a
// hash. The operation is deterministic, so retrying will not help.
var ErrHashUnavailable = errors.New("canonical: hash primitive unavailable")

// Hasher produces a lowercase hex digest of data.
type Hasher interface {
	Sum(data []byte) (string, error)
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(data []byte) (string, error)

// Sum implements Hasher.
func (f HasherFunc) Sum(data []byte) (string, error) { return f(data) }

// SHA256 is the 256-bit digest used for every ledger and manifest hash.
var SHA256 Hasher = digestHasher{newHash: sha256.New}

type digestHasher struct {
	newHash func() hash.Hash
}

func (d digestHasher) Sum(data []byte) (string, error) {
	if d.newHash == nil {
		return "", ErrHashUnavailable
	}
	h := d.newHash()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashUnavailable, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashString hashes s with h, falling back to SHA256 when h is nil.
func HashString(h Hasher, s string) (string, error) {
	if h == nil {
		h = SHA256
	}
	return h.Sum([]byte(s))
}

// HashValue hashes the canonical form of v.
func HashValue(h Hasher, v Value) (string, error) {
	return HashString(h, Canonicalize(v))
}
