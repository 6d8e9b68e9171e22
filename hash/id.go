package hash

import (
	"bytes"
	"encoding/hex"
)

// ID is the content-address of a stored record: the digest of its canonical
// encoding under a specific Algo. The zero value of ID is the all-zero id of
// SHA1 width, matching the distinguished "absent" value described in the
// spec; callers working in SHA256 repositories should use ZeroFor.
type ID struct {
	algo Algo
	b    [sha256Size]byte
}

// ZeroFor returns the distinguished all-zero id for the given algorithm.
func ZeroFor(a Algo) ID { return ID{algo: a} }

// Algo reports which algorithm produced id.
func (id ID) Algo() Algo { return id.algo }

// IsZero reports whether id is the distinguished "absent" value.
func (id ID) IsZero() bool {
	for _, c := range id.b[:id.algo.Size()] {
		if c != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw digest bytes (length Algo().Size()).
func (id ID) Bytes() []byte {
	out := make([]byte, id.algo.Size())
	copy(out, id.b[:id.algo.Size()])
	return out
}

// String renders id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id.b[:id.algo.Size()])
}

// Compare orders ids byte-lexicographically. Ids of different algorithms
// compare by their shorter-first byte-lexicographic prefix, then by size;
// this only matters for diagnostics since a repository uses one algorithm.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.b[:id.algo.Size()], other.b[:other.algo.Size()])
}

// HasPrefix reports whether id's raw bytes start with the given raw prefix
// bytes. It compares whole bytes only; an odd-length hex prefix is matched
// with HasHexPrefix instead.
func (id ID) HasPrefix(prefix []byte) bool {
	full := id.b[:id.algo.Size()]
	if len(prefix) > len(full) {
		return false
	}
	return bytes.Equal(full[:len(prefix)], prefix)
}

// HasHexPrefix reports whether the hex string form of id starts with hexPrefix.
func (id ID) HasHexPrefix(hexPrefix string) bool {
	s := id.String()
	if len(hexPrefix) > len(s) {
		return false
	}
	return s[:len(hexPrefix)] == hexPrefix
}

// FromBytes builds an ID of the given algorithm from raw digest bytes.
func FromBytes(a Algo, b []byte) (ID, bool) {
	if len(b) != a.Size() {
		return ID{}, false
	}
	id := ID{algo: a}
	copy(id.b[:], b)
	return id, true
}

// FromHex parses the hexadecimal textual form of an id, inferring the
// algorithm from the string length (§4.1 id_from_hex).
func FromHex(s string) (ID, bool) {
	switch len(s) {
	case sha1HexSize:
		return fromHex(SHA1, s)
	case sha256HexSize:
		return fromHex(SHA256, s)
	default:
		return ID{}, false
	}
}

func fromHex(a Algo, s string) (ID, bool) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, false
	}
	return FromBytes(a, b)
}

// MustFromHex is FromHex but panics on malformed input; for tests and
// literal constants only.
func MustFromHex(s string) ID {
	id, ok := FromHex(s)
	if !ok {
		panic("hash: invalid hex id " + s)
	}
	return id
}

// ValidHex reports whether s is a syntactically valid full-length id.
func ValidHex(s string) bool {
	_, ok := FromHex(s)
	return ok
}
