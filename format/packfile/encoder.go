package packfile

import (
	"compress/zlib"
	"hash/crc32"
	"io"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// Encoder streams records into a pack file as it goes, the way a
// bulk-checkin session does (spec §4.2): the object count is unknown
// upfront, so the header is written with a zero count and patched once the
// caller knows how many records were written. The encoder never emits
// deltas — bulk-checkin exists to avoid loose-file churn during large
// imports, not to repack; that policy belongs to a separate compaction
// tool outside this core's scope.
type Encoder struct {
	w      io.WriteSeeker
	algo   hash.Algo
	digest hash.ID
	cw     *countingWriter
	hasher interface {
		io.Writer
		Sum([]byte) []byte
	}
	count uint32
}

// NewEncoder writes a placeholder header and readies the encoder for a
// sequence of Encode calls.
func NewEncoder(w io.WriteSeeker, algo hash.Algo) (*Encoder, error) {
	cw := &countingWriter{w: w}
	h := hash.New(algo)
	mw := io.MultiWriter(cw, h)

	if err := writeHeader(mw, 0); err != nil {
		return nil, err
	}

	return &Encoder{w: w, algo: algo, cw: cw, hasher: h}, nil
}

// Encode appends one record, returning its offset within the pack and its
// CRC-32 (for the sibling idxfile entry).
func (e *Encoder) Encode(t plumbing.ObjectType, content []byte) (offset int64, crc uint32, err error) {
	offset = e.cw.n

	crcHash := crc32.NewIEEE()
	mw := io.MultiWriter(e.cw, e.hasher, crcHash)

	if err := writeObjectHeader(mw, t, int64(len(content))); err != nil {
		return 0, 0, err
	}

	zw := zlib.NewWriter(mw)
	if _, err := zw.Write(content); err != nil {
		return 0, 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, 0, err
	}

	e.count++
	return offset, crcHash.Sum32(), nil
}

// Close writes the trailing digest and patches the object count recorded
// in the header, then returns the pack's own checksum.
func (e *Encoder) Close() (hash.ID, error) {
	sum := e.hasher.Sum(nil)
	id, _ := hash.FromBytes(e.algo, sum)

	if _, err := e.w.Write(sum); err != nil {
		return hash.ID{}, err
	}

	if _, err := e.w.Seek(8, io.SeekStart); err != nil {
		return hash.ID{}, err
	}
	if err := writeU32(e.w, e.count); err != nil {
		return hash.ID{}, err
	}
	if _, err := e.w.Seek(0, io.SeekEnd); err != nil {
		return hash.ID{}, err
	}

	e.digest = id
	return id, nil
}

// Count reports how many records have been written so far.
func (e *Encoder) Count() uint32 { return e.count }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
