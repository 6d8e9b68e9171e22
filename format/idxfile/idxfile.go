// Package idxfile implements the pack index format (spec §6): a sorted
// id → offset map with a 256-entry fan-out table for O(log N) + O(1) lookup.
package idxfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/nthall/gitcore/hash"
)

var (
	header         = []byte{0xff, 't', 'O', 'c'}
	ErrInvalidIdx  = errors.New("invalid pack index file")
	ErrUnsupported = errors.New("unsupported pack index version")

	is64BitMask uint32 = 1 << 31
)

const version2 = 2

type entry struct {
	id     hash.ID
	offset uint64
	crc    uint32
}

// Index is an in-memory pack index (v2 on-disk format only; this is the
// only version any in-tree pack writer produces, but Decode also reads v2
// exclusively — older v1 idx files are out of scope per spec §3's closed
// hash-algorithm set).
type Index struct {
	Version          uint32
	Fanout           [256]uint32
	PackfileChecksum hash.ID
	entries          []entry // sorted by id once Build has run
	built            bool
}

// NewIndex returns an empty index builder.
func NewIndex() *Index { return &Index{Version: version2} }

// Add registers one object's position; call Build once all objects are
// added and before Encode/FindOffset/LookupPrefix are used.
func (ix *Index) Add(id hash.ID, offset uint64, crc uint32) {
	ix.entries = append(ix.entries, entry{id: id, offset: offset, crc: crc})
	ix.built = false
}

// Build sorts entries by id and computes the fan-out table.
func (ix *Index) Build() {
	sort.Slice(ix.entries, func(i, j int) bool { return ix.entries[i].id.Compare(ix.entries[j].id) < 0 })

	var fan [256]uint32
	for _, e := range ix.entries {
		b := e.id.Bytes()[0]
		for i := int(b); i < 256; i++ {
			fan[i]++
		}
	}
	ix.Fanout = fan
	ix.built = true
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// EntryAt returns the id/offset/crc at sorted position i.
func (ix *Index) EntryAt(i int) (hash.ID, uint64, uint32) {
	e := ix.entries[i]
	return e.id, e.offset, e.crc
}

// FindOffset performs the fan-out-bounded binary search for id's exact
// match, returning its pack offset.
func (ix *Index) FindOffset(id hash.ID) (uint64, bool) {
	lo, hi := ix.fanoutBounds(id.Bytes()[0])
	b := id.Bytes()
	pos := sort.Search(hi-lo, func(i int) bool {
		return ix.entries[lo+i].id.Compare(id) >= 0
	}) + lo
	if pos < hi && bytes.Equal(ix.entries[pos].id.Bytes(), b) {
		return ix.entries[pos].offset, true
	}
	return 0, false
}

// LookupPrefix returns every id whose bytes start with prefix, in sorted
// order — the primitive find_unique (spec §4.1) is built on.
func (ix *Index) LookupPrefix(prefix []byte) []hash.ID {
	if len(prefix) == 0 || ix.Len() == 0 {
		return nil
	}
	lo, hi := ix.fanoutBounds(prefix[0])

	var out []hash.ID
	for i := lo; i < hi; i++ {
		if ix.entries[i].id.HasPrefix(prefix) {
			out = append(out, ix.entries[i].id)
		}
	}
	return out
}

func (ix *Index) fanoutBounds(b byte) (lo, hi int) {
	if b == 0 {
		lo = 0
	} else {
		lo = int(ix.Fanout[b-1])
	}
	hi = int(ix.Fanout[b])
	return
}

// Encode writes the v2 on-disk format: header, fanout, sorted ids, CRCs,
// offsets (32-bit, with a 64-bit overflow table for offsets >= 2^31), pack
// trailer digest, self trailer digest (spec §6).
func (ix *Index) Encode(w io.Writer, algo hash.Algo) error {
	if !ix.built {
		ix.Build()
	}

	hw := hash.New(algo)
	mw := io.MultiWriter(w, hw)

	if _, err := mw.Write(header); err != nil {
		return err
	}
	if err := writeU32(mw, version2); err != nil {
		return err
	}
	for _, f := range ix.Fanout {
		if err := writeU32(mw, f); err != nil {
			return err
		}
	}
	for _, e := range ix.entries {
		if _, err := mw.Write(e.id.Bytes()); err != nil {
			return err
		}
	}
	for _, e := range ix.entries {
		if err := writeU32(mw, e.crc); err != nil {
			return err
		}
	}

	var overflow []uint64
	for _, e := range ix.entries {
		if e.offset > 0x7fffffff {
			idx := uint32(len(overflow)) | is64BitMask
			overflow = append(overflow, e.offset)
			if err := writeU32(mw, idx); err != nil {
				return err
			}
			continue
		}
		if err := writeU32(mw, uint32(e.offset)); err != nil {
			return err
		}
	}
	for _, o := range overflow {
		if err := writeU64(mw, o); err != nil {
			return err
		}
	}

	if _, err := mw.Write(ix.PackfileChecksum.Bytes()); err != nil {
		return err
	}

	sum := hw.Sum(nil)
	_, err := w.Write(sum)
	return err
}

// Decode reads back a v2 index file produced by Encode.
func Decode(r io.Reader, algo hash.Algo) (*Index, error) {
	br := newByteReader(r)

	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdx, err)
	}
	if !bytes.Equal(hdr[:], header) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidIdx)
	}

	version, err := readU32(br)
	if err != nil {
		return nil, err
	}
	if version != version2 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupported, version)
	}

	ix := &Index{Version: version}
	for i := range ix.Fanout {
		v, err := readU32(br)
		if err != nil {
			return nil, err
		}
		ix.Fanout[i] = v
	}

	count := int(ix.Fanout[255])
	ids := make([]hash.ID, count)
	for i := 0; i < count; i++ {
		b := make([]byte, algo.Size())
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, err
		}
		id, ok := hash.FromBytes(algo, b)
		if !ok {
			return nil, ErrInvalidIdx
		}
		ids[i] = id
	}

	crcs := make([]uint32, count)
	for i := 0; i < count; i++ {
		v, err := readU32(br)
		if err != nil {
			return nil, err
		}
		crcs[i] = v
	}

	raw32 := make([]uint32, count)
	var numOverflow int
	for i := 0; i < count; i++ {
		v, err := readU32(br)
		if err != nil {
			return nil, err
		}
		raw32[i] = v
		if v&is64BitMask != 0 {
			idx := int(v &^ is64BitMask)
			if idx+1 > numOverflow {
				numOverflow = idx + 1
			}
		}
	}
	overflow := make([]uint64, numOverflow)
	for i := 0; i < numOverflow; i++ {
		v, err := readU64(br)
		if err != nil {
			return nil, err
		}
		overflow[i] = v
	}

	ix.entries = make([]entry, count)
	for i := 0; i < count; i++ {
		off := uint64(raw32[i])
		if raw32[i]&is64BitMask != 0 {
			off = overflow[raw32[i]&^is64BitMask]
		}
		ix.entries[i] = entry{id: ids[i], offset: off, crc: crcs[i]}
	}
	ix.built = true

	pb := make([]byte, algo.Size())
	if _, err := io.ReadFull(br, pb); err != nil {
		return nil, err
	}
	ix.PackfileChecksum, _ = hash.FromBytes(algo, pb)

	// trailing self-checksum is read but not verified here; the packfile
	// decoder does not verify the pack's own trailing checksum either.
	sb := make([]byte, algo.Size())
	io.ReadFull(br, sb)

	return ix, nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// newByteReader lets Decode work over a plain io.Reader.
func newByteReader(r io.Reader) io.Reader { return r }
