package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/nthall/gitcore/format/idxfile"
	"github.com/nthall/gitcore/format/packfile"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// pack is one loaded pack: its decoded index kept resident (fan-out table
// and sorted id/offset/crc arrays are small relative to pack content) and an
// open file handle backing random-access reads through packfile.Decoder.
type pack struct {
	name string
	idx  *idxfile.Index
	file billy.File
	size int64
	dec  *packfile.Decoder
}

// ensurePacksLoadedLocked loads the pack list on first use; later callers
// must call refreshPacksLocked explicitly to pick up packs written by
// another process (spec §4.2 "prepared view").
func (s *Store) ensurePacksLoadedLocked() error {
	if s.packsLoaded {
		return nil
	}
	return s.refreshPacksLocked()
}

// refreshPacksLocked rescans the pack directory, keeping already-open packs
// that are still present and opening any new ones. This is the "prepared
// view" refresh spec §4.2 and §7 call for on a lookup miss.
func (s *Store) refreshPacksLocked() error {
	entries, err := s.fs.ReadDir("pack")
	if err != nil {
		if os.IsNotExist(err) {
			s.closePacksLocked()
			s.packs = nil
			s.packsLoaded = true
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".idx") {
			names = append(names, strings.TrimSuffix(e.Name(), ".idx"))
		}
	}

	existing := make(map[string]*pack, len(s.packs))
	for _, p := range s.packs {
		existing[p.name] = p
	}

	fresh := make([]*pack, 0, len(names))
	for _, name := range names {
		if p, ok := existing[name]; ok {
			fresh = append(fresh, p)
			delete(existing, name)
			continue
		}
		p, err := s.openPack(name)
		if err != nil {
			return err
		}
		fresh = append(fresh, p)
	}
	for _, stale := range existing {
		stale.file.Close()
	}

	s.packs = fresh
	s.packsLoaded = true
	return nil
}

func (s *Store) openPack(name string) (*pack, error) {
	idxPath := s.fs.Join("pack", name+".idx")
	idxFile, err := s.fs.Open(idxPath)
	if err != nil {
		return nil, err
	}
	ix, err := idxfile.Decode(idxFile, s.algo)
	idxFile.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
	}

	packPath := s.fs.Join("pack", name+".pack")
	f, err := s.fs.Open(packPath)
	if err != nil {
		return nil, err
	}
	fi, err := s.fs.Stat(packPath)
	if err != nil {
		f.Close()
		return nil, err
	}

	dec, err := packfile.NewDecoder(f, fi.Size(), s.algo, ix)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
	}

	return &pack{name: name, idx: ix, file: f, size: fi.Size(), dec: dec}, nil
}

func (s *Store) closePacksLocked() {
	for _, p := range s.packs {
		p.file.Close()
	}
}

func (s *Store) hasPackLocked(id hash.ID) (bool, error) {
	if err := s.ensurePacksLoadedLocked(); err != nil {
		return false, err
	}
	for _, p := range s.packs {
		if _, ok := p.idx.FindOffset(id); ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) readPackLocked(id hash.ID) (plumbing.ObjectType, []byte, bool, error) {
	if err := s.ensurePacksLoadedLocked(); err != nil {
		return 0, nil, false, err
	}
	for _, p := range s.packs {
		off, ok := p.idx.FindOffset(id)
		if !ok {
			continue
		}
		t, content, err := p.dec.Get(int64(off))
		if err != nil {
			return 0, nil, false, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
		}
		return t, content, true, nil
	}
	return 0, nil, false, nil
}

// infoPackLocked has no header-only entry point into packfile.Decoder (pack
// entries are only recoverable by inflating and, for deltas, resolving the
// whole chain), so it materializes the record and reports its final size —
// a real relaxation of "does not materialize payload" versus the loose
// backend, noted in DESIGN.md.
func (s *Store) infoPackLocked(id hash.ID) (plumbing.ObjectType, int64, bool, error) {
	t, content, ok, err := s.readPackLocked(id)
	if err != nil || !ok {
		return 0, 0, ok, err
	}
	return t, int64(len(content)), true, nil
}

func (s *Store) forEachPackLocked(fn func(id hash.ID) error) error {
	if err := s.ensurePacksLoadedLocked(); err != nil {
		return err
	}
	for _, p := range s.packs {
		for i := 0; i < p.idx.Len(); i++ {
			id, _, _ := p.idx.EntryAt(i)
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}
