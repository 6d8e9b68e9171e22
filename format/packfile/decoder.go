package packfile

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// BaseResolver locates the pack offset of a REF_DELTA base by id. A pack's
// sibling idxfile.Index satisfies this directly via FindOffset.
type BaseResolver interface {
	FindOffset(id hash.ID) (uint64, bool)
}

// baseEntry is one resolved (type, content) pair kept in the small LRU used
// to avoid re-walking shared delta chains (spec §4.2).
type baseEntry struct {
	offset int64
	typ    plumbing.ObjectType
	data   []byte
}

// baseCache is a small fixed-capacity LRU keyed by pack offset.
type baseCache struct {
	cap   int
	order []int64
	by    map[int64]baseEntry
}

func newBaseCache(capacity int) *baseCache {
	return &baseCache{cap: capacity, by: make(map[int64]baseEntry, capacity)}
}

func (c *baseCache) get(offset int64) (baseEntry, bool) {
	e, ok := c.by[offset]
	if ok {
		for i, o := range c.order {
			if o == offset {
				copy(c.order[i:], c.order[i+1:])
				c.order[len(c.order)-1] = offset
				break
			}
		}
	}
	return e, ok
}

func (c *baseCache) put(e baseEntry) {
	if _, exists := c.by[e.offset]; !exists {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.by, oldest)
		}
		c.order = append(c.order, e.offset)
	}
	c.by[e.offset] = e
}

// cacheCapacity bounds the base cache's resident object count.
const cacheCapacity = 96

// Decoder provides random-access reads into a pack file, resolving
// OFS_DELTA and REF_DELTA chains transparently (spec §4.2, §6).
type Decoder struct {
	ra       io.ReaderAt
	size     int64
	algo     hash.Algo
	header   Header
	resolver BaseResolver
	cache    *baseCache
}

// NewDecoder opens a pack for random access. resolver may be nil if the
// pack is known to contain no REF_DELTA entries (e.g. one produced by this
// package's own Encoder, which never emits deltas).
func NewDecoder(ra io.ReaderAt, size int64, algo hash.Algo, resolver BaseResolver) (*Decoder, error) {
	hdr, err := readHeader(io.NewSectionReader(ra, 0, size))
	if err != nil {
		return nil, err
	}
	return &Decoder{
		ra:       ra,
		size:     size,
		algo:     algo,
		header:   hdr,
		resolver: resolver,
		cache:    newBaseCache(cacheCapacity),
	}, nil
}

// Count reports the number of objects the pack header declares.
func (d *Decoder) Count() uint32 { return d.header.ObjectsQty }

// entryHeader describes one in-pack encoding located at offset.
type entryHeader struct {
	typ        plumbing.ObjectType
	size       int64
	baseOffset int64 // OFS_DELTA only
	baseID     hash.ID
}

// readEntry parses the header at offset and inflates its payload (the raw
// object bytes, or the delta instruction stream for OFS_DELTA/REF_DELTA),
// returning the absolute offset immediately following it. Header parsing
// and inflation share one bufio.Reader so the end offset can be recovered
// from the reader's buffered/consumed byte accounting (see consumedBytes)
// rather than from flate's own internal read-ahead, which otherwise
// overshoots the true stream boundary.
func (d *Decoder) readEntry(offset int64) (entryHeader, []byte, int64, error) {
	sr := io.NewSectionReader(d.ra, offset, d.size-offset)
	br := bufio.NewReader(sr)

	t, size, err := readObjectHeader(br)
	if err != nil {
		return entryHeader{}, nil, 0, fmt.Errorf("%w: %v", ErrMalformedPack, err)
	}

	eh := entryHeader{typ: t, size: size}

	switch t {
	case plumbing.OFSDeltaObject:
		back, err := readOfsOffset(br)
		if err != nil {
			return entryHeader{}, nil, 0, fmt.Errorf("%w: %v", ErrMalformedPack, err)
		}
		eh.baseOffset = offset - back
		if eh.baseOffset < 0 || eh.baseOffset >= offset {
			return entryHeader{}, nil, 0, ErrInvalidOffset
		}
	case plumbing.REFDeltaObject:
		idb := make([]byte, d.algo.Size())
		if _, err := io.ReadFull(br, idb); err != nil {
			return entryHeader{}, nil, 0, fmt.Errorf("%w: %v", ErrMalformedPack, err)
		}
		id, ok := hash.FromBytes(d.algo, idb)
		if !ok {
			return entryHeader{}, nil, 0, ErrMalformedPack
		}
		eh.baseID = id
	}

	zr, err := zlib.NewReader(br)
	if err != nil {
		return entryHeader{}, nil, 0, fmt.Errorf("%w: %v", ErrMalformedPack, err)
	}
	payload, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return entryHeader{}, nil, 0, fmt.Errorf("%w: %v", ErrMalformedPack, err)
	}

	end := offset + consumedBytes(sr, br)
	return eh, payload, end, nil
}

// consumedBytes reports how many bytes of sr have been logically consumed
// by br's callers, independent of how much br has itself buffered ahead.
func consumedBytes(sr *io.SectionReader, br *bufio.Reader) int64 {
	pos, _ := sr.Seek(0, io.SeekCurrent)
	return pos - int64(br.Buffered())
}

// Get resolves the object stored at offset, following any delta chain.
func (d *Decoder) Get(offset int64) (plumbing.ObjectType, []byte, error) {
	return d.get(offset, 0)
}

func (d *Decoder) get(offset int64, depth int) (plumbing.ObjectType, []byte, error) {
	if depth > maxDeltaDepth {
		return 0, nil, ErrMaxDeltaDepth
	}
	if e, ok := d.cache.get(offset); ok {
		return e.typ, e.data, nil
	}

	eh, payload, _, err := d.readEntry(offset)
	if err != nil {
		return 0, nil, err
	}

	typ, data, err := d.resolve(offset, eh, payload, depth)
	if err != nil {
		return 0, nil, err
	}
	return typ, data, nil
}

// resolve turns eh's own payload into final (type, content), following a
// delta chain if eh is a delta entry, and caches the result under offset.
func (d *Decoder) resolve(offset int64, eh entryHeader, payload []byte, depth int) (plumbing.ObjectType, []byte, error) {
	if !eh.typ.IsDelta() {
		d.cache.put(baseEntry{offset: offset, typ: eh.typ, data: payload})
		return eh.typ, payload, nil
	}

	baseOffset := eh.baseOffset
	if eh.typ == plumbing.REFDeltaObject {
		if d.resolver == nil {
			return 0, nil, fmt.Errorf("%w: REF_DELTA without a resolver", ErrMalformedPack)
		}
		off, ok := d.resolver.FindOffset(eh.baseID)
		if !ok {
			return 0, nil, plumbing.ErrObjectNotFound
		}
		baseOffset = int64(off)
	}

	baseTyp, baseData, err := d.get(baseOffset, depth+1)
	if err != nil {
		return 0, nil, err
	}
	data, err := applyDelta(baseData, payload)
	if err != nil {
		return 0, nil, err
	}
	d.cache.put(baseEntry{offset: offset, typ: baseTyp, data: data})
	return baseTyp, data, nil
}

// ForEach walks every object in pack order, yielding its resolved type,
// content and the offset it was stored at. Delta objects are resolved
// transparently so the callback never sees raw delta instructions.
func (d *Decoder) ForEach(fn func(offset int64, t plumbing.ObjectType, content []byte) error) error {
	offset := int64(12) // "PACK" + version + count
	for i := uint32(0); i < d.header.ObjectsQty; i++ {
		eh, payload, end, err := d.readEntry(offset)
		if err != nil {
			return err
		}

		typ, data, err := d.resolve(offset, eh, payload, 0)
		if err != nil {
			return err
		}
		if err := fn(offset, typ, data); err != nil {
			return err
		}

		offset = end
	}
	return nil
}
