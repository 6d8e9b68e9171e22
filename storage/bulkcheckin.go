package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/nthall/gitcore/format/idxfile"
	"github.com/nthall/gitcore/format/packfile"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// packHeaderSize is "PACK" + version + object count.
const packHeaderSize = 12

type bcRecord struct {
	t       plumbing.ObjectType
	content []byte
}

// bulkCheckin is the in-progress pack a Plug/Unplug bracket streams writes
// into (spec §4.2 bulk-checkin session), grounded on git's bulk-checkin.c.
type bulkCheckin struct {
	store   *Store
	sizeCap int64 // <= 0 means unconstrained

	tmp     billy.File
	enc     *packfile.Encoder
	curSize int64
	entries []bcEntry

	// written lets reads made during the session see records that haven't
	// been moved into the store yet; since Write's signature takes a fully
	// materialized []byte rather than a stream, there is nothing to
	// "replay" on rollover (see the note on already_hashed_to below).
	written map[hash.ID]bcRecord
}

type bcEntry struct {
	id     hash.ID
	offset int64
	crc    uint32
}

// Plug begins a bulk-checkin session; sizeCap <= 0 means no size-triggered
// rollover (spec §4.2).
func (s *Store) Plug(sizeCap int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bc != nil {
		return ErrAlreadyPlugged
	}
	s.bc = &bulkCheckin{store: s, sizeCap: sizeCap, written: make(map[hash.ID]bcRecord)}
	return nil
}

// Unplug ends the session: a pack with zero records is discarded; a pack
// with at least one record is finalized and moved into the store.
func (s *Store) Unplug() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bc := s.bc
	if bc == nil {
		return ErrNotPlugged
	}
	s.bc = nil

	if bc.enc == nil || len(bc.entries) == 0 {
		if bc.tmp != nil {
			name := bc.tmp.Name()
			bc.tmp.Close()
			s.fs.Remove(name)
		}
		return nil
	}
	return s.finalizePackLocked(bc.tmp, bc.enc, bc.entries)
}

func (bc *bulkCheckin) lookup(id hash.ID) ([]byte, plumbing.ObjectType, bool) {
	r, ok := bc.written[id]
	if !ok {
		return nil, 0, false
	}
	return r.content, r.t, true
}

// write appends one record to the in-progress pack, rolling over to a fresh
// pack first if this record would push the current pack past sizeCap
// (spec §4.2, testable property "boundary: a blob exactly pack_size_limit
// bytes large triggers a rollover with no bytes double-hashed").
//
// The rollover here never truncates a partially-written pack: the record's
// compressed size is measured into a scratch buffer first (same zlib
// settings as the real encoder, so the measurement is exact), so the
// decision to roll over is made *before* anything is appended to the
// current pack. This replaces bulk-checkin.c's "capture a checkpoint, write
// speculatively, truncate back to the checkpoint on overflow" dance — which
// exists there because the source streams from an external byte source one
// buffer at a time. Here Write's signature already requires the full
// content as a single []byte, so "already_hashed_to" bookkeeping collapses
// to simply computing the id once up front and reusing it regardless of
// which pack the record ultimately lands in; no input byte is ever hashed
// twice.
func (bc *bulkCheckin) write(t plumbing.ObjectType, content []byte) (hash.ID, error) {
	id := computeID(bc.store.algo, t, content)
	if r, ok := bc.written[id]; ok && r.t == t && bytes.Equal(r.content, content) {
		return id, nil
	}

	predicted, err := measureRecordLen(bc.store.algo, t, content)
	if err != nil {
		return hash.ID{}, err
	}

	if bc.enc == nil {
		if err := bc.start(); err != nil {
			return hash.ID{}, err
		}
	} else if bc.sizeCap > 0 && len(bc.entries) > 0 && bc.curSize+predicted > bc.sizeCap {
		if err := bc.rollover(); err != nil {
			return hash.ID{}, err
		}
	}

	offset, crc, err := bc.enc.Encode(t, content)
	if err != nil {
		return hash.ID{}, err
	}
	bc.curSize += predicted
	bc.entries = append(bc.entries, bcEntry{id: id, offset: offset, crc: crc})
	bc.written[id] = bcRecord{t: t, content: content}
	return id, nil
}

func (bc *bulkCheckin) start() error {
	tmp, err := bc.store.fs.TempFile("", "pack-")
	if err != nil {
		return err
	}
	enc, err := packfile.NewEncoder(tmp, bc.store.algo)
	if err != nil {
		tmp.Close()
		bc.store.fs.Remove(tmp.Name())
		return err
	}
	bc.tmp = tmp
	bc.enc = enc
	bc.curSize = packHeaderSize
	bc.entries = nil
	return nil
}

// rollover finalizes the current pack (whatever it already holds) and
// starts a fresh one; the caller appends the triggering record afterward.
func (bc *bulkCheckin) rollover() error {
	if err := bc.store.finalizePackLocked(bc.tmp, bc.enc, bc.entries); err != nil {
		return err
	}
	return bc.start()
}

// finalizePackLocked seals enc's trailing digest, builds the sibling index
// from entries, and moves both files into the pack directory. Invalidating
// packsLoaded makes the new pack visible on the next lookup without having
// to re-open it here.
func (s *Store) finalizePackLocked(tmp billy.File, enc *packfile.Encoder, entries []bcEntry) error {
	digest, err := enc.Close()
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	ix := idxfile.NewIndex()
	for _, e := range entries {
		ix.Add(e.id, uint64(e.offset), e.crc)
	}
	ix.PackfileChecksum = digest
	ix.Build()

	if err := s.fs.MkdirAll("pack", 0o755); err != nil {
		return err
	}

	name := fmt.Sprintf("pack-%s", digest.String())
	packPath := s.fs.Join("pack", name+".pack")
	if err := s.fs.Rename(tmp.Name(), packPath); err != nil {
		return err
	}

	idxPath := s.fs.Join("pack", name+".idx")
	idxFile, err := s.fs.Create(idxPath)
	if err != nil {
		return err
	}
	if err := ix.Encode(idxFile, s.algo); err != nil {
		idxFile.Close()
		return err
	}
	if err := idxFile.Close(); err != nil {
		return err
	}

	s.packsLoaded = false
	return nil
}

// growBuffer is a minimal in-memory io.WriteSeeker, the same adapter shape
// packfile's own encoder tests use to drive an Encoder without a real file.
type growBuffer struct {
	b   []byte
	pos int64
}

func (g *growBuffer) Write(p []byte) (int, error) {
	end := g.pos + int64(len(p))
	if end > int64(len(g.b)) {
		nb := make([]byte, end)
		copy(nb, g.b)
		g.b = nb
	}
	copy(g.b[g.pos:end], p)
	g.pos = end
	return len(p), nil
}

func (g *growBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		g.pos = offset
	case io.SeekCurrent:
		g.pos += offset
	case io.SeekEnd:
		g.pos = int64(len(g.b)) + offset
	}
	return g.pos, nil
}

// measureRecordLen reports exactly how many bytes encoding (t, content)
// would add to a pack, by running the real encoder once against a scratch
// buffer instead of duplicating its header/zlib logic.
func measureRecordLen(algo hash.Algo, t plumbing.ObjectType, content []byte) (int64, error) {
	scratch := &growBuffer{}
	enc, err := packfile.NewEncoder(scratch, algo)
	if err != nil {
		return 0, err
	}
	before := int64(len(scratch.b))
	if _, _, err := enc.Encode(t, content); err != nil {
		return 0, err
	}
	return int64(len(scratch.b)) - before, nil
}
