// Package plumbing holds the value types shared by every layer of the core:
// the stored-record kind tag, the restricted set of tree/index modes, and
// the EncodedObject interface that the object store, the parsed object
// graph and the index all build on.
package plumbing

import (
	"errors"
	"io"

	"github.com/nthall/gitcore/hash"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidType    = errors.New("invalid object type")
)

// EncodedObject is a generic in-flight representation of a stored record:
// either freshly read from the store or being assembled before a write.
type EncodedObject interface {
	Hash() hash.ID
	Type() ObjectType
	SetType(ObjectType)
	Size() int64
	SetSize(int64)
	Reader() (io.ReadCloser, error)
	Writer() (io.WriteCloser, error)
}

// DeltaObject is an EncodedObject carrying pack delta metadata in addition
// to its fully reconstructed payload.
type DeltaObject interface {
	EncodedObject
	BaseHash() hash.ID
	ActualHash() hash.ID
	ActualSize() int64
}

// ObjectType tags the four stored record kinds plus the two in-pack delta
// encodings (§3, §6).
type ObjectType int8

const (
	InvalidObject ObjectType = 0
	CommitObject  ObjectType = 1
	TreeObject    ObjectType = 2
	BlobObject    ObjectType = 3
	TagObject     ObjectType = 4
	// 5 is reserved, matching the wire encoding's gap.
	OFSDeltaObject ObjectType = 6
	REFDeltaObject ObjectType = 7

	AnyObject ObjectType = -127
)

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	case OFSDeltaObject:
		return "ofs-delta"
	case REFDeltaObject:
		return "ref-delta"
	case AnyObject:
		return "any"
	default:
		return "unknown"
	}
}

func (t ObjectType) Bytes() []byte { return []byte(t.String()) }

func (t ObjectType) Valid() bool { return t >= CommitObject && t <= REFDeltaObject }

func (t ObjectType) IsDelta() bool { return t == REFDeltaObject || t == OFSDeltaObject }

// ParseObjectType parses the framing header's kind field (§3).
func ParseObjectType(value string) (ObjectType, error) {
	switch value {
	case "commit":
		return CommitObject, nil
	case "tree":
		return TreeObject, nil
	case "blob":
		return BlobObject, nil
	case "tag":
		return TagObject, nil
	case "ofs-delta":
		return OFSDeltaObject, nil
	case "ref-delta":
		return REFDeltaObject, nil
	default:
		return InvalidObject, ErrInvalidType
	}
}
