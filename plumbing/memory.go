package plumbing

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nthall/gitcore/hash"
)

// MemoryObject is an EncodedObject implementation backed entirely by an
// in-memory byte buffer. The store fills one in to hand out an
// EncodedObject, and tree decoding reads from it; the loose/pack writers
// take raw content bytes rather than a MemoryObject.
type MemoryObject struct {
	t    ObjectType
	h    hash.ID
	sz   int64
	algo hash.Algo
	buf  bytes.Buffer
}

// NewMemoryObject returns an empty MemoryObject for the given hash algorithm.
func NewMemoryObject(algo hash.Algo) *MemoryObject {
	return &MemoryObject{algo: algo}
}

func (o *MemoryObject) Hash() hash.ID {
	if o.h.IsZero() && o.buf.Len() > 0 {
		o.h = computeID(o.algo, o.t, o.buf.Bytes())
	}
	return o.h
}

func (o *MemoryObject) Type() ObjectType      { return o.t }
func (o *MemoryObject) SetType(t ObjectType)  { o.t = t }
func (o *MemoryObject) Size() int64           { return o.sz }
func (o *MemoryObject) SetSize(s int64)       { o.sz = s }

// Reader returns a fresh reader over the buffered content.
func (o *MemoryObject) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(o.buf.Bytes())), nil
}

// Writer returns a writer that appends to the buffer; closing it finalizes
// Size and the content-derived Hash.
func (o *MemoryObject) Writer() (io.WriteCloser, error) {
	return &memWriter{o: o}, nil
}

type memWriter struct{ o *MemoryObject }

func (w *memWriter) Write(p []byte) (int, error) {
	n, err := w.o.buf.Write(p)
	w.o.sz = int64(w.o.buf.Len())
	return n, err
}

func (w *memWriter) Close() error {
	w.o.h = computeID(w.o.algo, w.o.t, w.o.buf.Bytes())
	return nil
}

// computeID is the canonical framing + digest described in §3: the id of a
// record is the digest of "<kind> <decimal-size>\0<payload>".
func computeID(algo hash.Algo, t ObjectType, payload []byte) hash.ID {
	h := hash.New(algo)
	fmt.Fprintf(h, "%s %d\x00", t, len(payload))
	h.Write(payload)
	sum := h.Sum(nil)
	id, _ := hash.FromBytes(algo, sum)
	return id
}
