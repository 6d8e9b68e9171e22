// Package hash provides the configurable content digest used to name every
// stored record: blobs, trees, commits and tags are all addressed by the
// digest of their canonical encoding.
package hash

import (
	"crypto"
	"errors"
	"fmt"
	"hash"

	"github.com/pjbgf/sha1cd"
)

// Algo identifies a supported hash algorithm. The algorithm is a parameter
// that flows through every interface that persists or transmits an id: a
// single process never silently mixes ids computed under two algorithms.
type Algo int

const (
	// SHA1 is the default algorithm, using a collision-detecting
	// implementation so that known SHA-1 collision attacks are rejected
	// rather than silently accepted as valid object ids.
	SHA1 Algo = iota
	SHA256
)

const (
	sha1Size    = 20
	sha1HexSize = sha1Size * 2

	sha256Size    = 32
	sha256HexSize = sha256Size * 2
)

// Size returns the width in bytes of ids produced by a.
func (a Algo) Size() int {
	switch a {
	case SHA256:
		return sha256Size
	default:
		return sha1Size
	}
}

// HexSize returns the width in hex characters of ids produced by a.
func (a Algo) HexSize() int { return a.Size() * 2 }

func (a Algo) String() string {
	switch a {
	case SHA256:
		return "sha256"
	default:
		return "sha1"
	}
}

var ErrUnsupportedHashFunction = errors.New("unsupported hash function")

var algos = map[Algo]func() hash.Hash{}

func init() { resetAlgos() }

// resetAlgos restores the default registrations; available to this package's tests that
// register fakes and need to avoid leaking them into later tests.
func resetAlgos() {
	algos[SHA1] = sha1cd.New
	algos[SHA256] = crypto.SHA256.New
}

// RegisterHash overrides the hash implementation used for a given algorithm.
// Used to plug in hardware-accelerated or instrumented implementations.
func RegisterHash(a Algo, f func() hash.Hash) error {
	if f == nil {
		return fmt.Errorf("cannot register hash: f is nil")
	}
	switch a {
	case SHA1, SHA256:
		algos[a] = f
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedHashFunction, a)
	}
}

// New returns a fresh hash.Hash for the given algorithm. It panics if the
// algorithm has never been registered, which cannot happen for SHA1/SHA256.
func New(a Algo) hash.Hash {
	f, ok := algos[a]
	if !ok {
		panic(fmt.Sprintf("hash algorithm not registered: %v", a))
	}
	return f()
}
