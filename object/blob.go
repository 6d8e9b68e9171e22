package object

import (
	"io"

	"github.com/nthall/gitcore/plumbing"
)

// Blob is an opaque byte record (spec §3). Parsing a blob only marks the
// shell as parsed; no bytes are buffered in memory by the parsed object
// itself — callers read content through Reader.
type Blob struct {
	base
	size int64
}

// Decode marks b as parsed and records its size without buffering content.
func (b *Blob) Decode(o plumbing.EncodedObject) error {
	if o.Type() != plumbing.BlobObject {
		return ErrUnsupportedObject
	}
	b.kind = plumbing.BlobObject
	b.id = o.Hash()
	b.size = o.Size()
	b.parsed = true
	return nil
}

// Size returns the blob's content length.
func (b *Blob) Size() int64 { return b.size }

// Reader opens a fresh reader over the blob's content by reading through
// the given store.
func (b *Blob) Reader(store Store) (io.ReadCloser, error) {
	enc, err := store.EncodedObject(plumbing.BlobObject, b.id)
	if err != nil {
		return nil, err
	}
	return enc.Reader()
}
