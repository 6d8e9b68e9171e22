package storage

import (
	"encoding/hex"
	"os"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/object"
	"github.com/nthall/gitcore/plumbing"
)

// LookupPrefix returns every stored id whose hex form starts with
// hexPrefix, across the bulk-checkin session (if any), every loaded pack,
// and the loose backend — the cross-backend disambiguation hash.FindUnique
// needs (spec §4.1). Store satisfies hash.Source.
func (s *Store) LookupPrefix(hexPrefix string) ([]hash.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefixBytes := hexPrefixBytes(hexPrefix)
	seen := make(map[hash.ID]bool)
	var out []hash.ID
	add := func(id hash.ID) {
		if seen[id] || !id.HasHexPrefix(hexPrefix) {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	if s.bc != nil {
		for id := range s.bc.written {
			add(id)
		}
	}

	if err := s.ensurePacksLoadedLocked(); err != nil {
		return nil, err
	}
	for _, p := range s.packs {
		for _, id := range lookupPrefixInPack(p, hexPrefix, prefixBytes) {
			add(id)
		}
	}

	looseMatches, err := s.lookupPrefixInLooseLocked(hexPrefix)
	if err != nil {
		return nil, err
	}
	for _, id := range looseMatches {
		add(id)
	}

	hash.Sort(out)
	return out, nil
}

// Refresh invalidates the cached pack list so a subsequent LookupPrefix (or
// Read) sees packs written since the list was last loaded (spec §4.2
// "prepared view", §4.1 refresh-and-retry).
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshPacksLocked()
}

// hexPrefixBytes decodes the largest whole-byte prefix of hexPrefix, used to
// bound a pack's fan-out lookup. An odd trailing nibble is handled by the
// HasHexPrefix filter applied afterward, not here.
func hexPrefixBytes(hexPrefix string) []byte {
	n := len(hexPrefix) / 2
	if n == 0 {
		return nil
	}
	b, err := hex.DecodeString(hexPrefix[:2*n])
	if err != nil {
		return nil
	}
	return b
}

// lookupPrefixInPack narrows to p's fan-out bucket when at least one whole
// byte of prefix is known; otherwise it falls back to a full scan of p's
// entries (only reachable for prefixes shorter than hash.MinAbbrevLen,
// which find_unique's callers never produce in practice).
func lookupPrefixInPack(p *pack, hexPrefix string, prefixBytes []byte) []hash.ID {
	var out []hash.ID
	if len(prefixBytes) > 0 {
		for _, id := range p.idx.LookupPrefix(prefixBytes) {
			if id.HasHexPrefix(hexPrefix) {
				out = append(out, id)
			}
		}
		return out
	}
	for i := 0; i < p.idx.Len(); i++ {
		id, _, _ := p.idx.EntryAt(i)
		if id.HasHexPrefix(hexPrefix) {
			out = append(out, id)
		}
	}
	return out
}

// lookupPrefixInLooseLocked narrows to the single "aa/" directory named by
// hexPrefix's first two characters when available.
func (s *Store) lookupPrefixInLooseLocked(hexPrefix string) ([]hash.ID, error) {
	var out []hash.ID

	if len(hexPrefix) < 2 {
		err := s.forEachLooseLocked(func(id hash.ID) error {
			if id.HasHexPrefix(hexPrefix) {
				out = append(out, id)
			}
			return nil
		})
		return out, err
	}

	dir := hexPrefix[:2]
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := hash.FromHex(dir + e.Name())
		if !ok {
			continue
		}
		if id.HasHexPrefix(hexPrefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Classify and Peel let Store serve as hash.FindUnique's Dereferencer: the
// committish/treeish hints need to know a candidate's kind and, for a tag,
// its target one layer down.
func (s *Store) Classify(id hash.ID) (hash.Kind, error) {
	s.mu.Lock()
	t, _, err := s.infoLocked(id)
	s.mu.Unlock()
	if err != nil {
		return hash.KindUnknown, err
	}
	switch t {
	case plumbing.BlobObject:
		return hash.KindBlob, nil
	case plumbing.TreeObject:
		return hash.KindTree, nil
	case plumbing.CommitObject:
		return hash.KindCommit, nil
	case plumbing.TagObject:
		return hash.KindTag, nil
	default:
		return hash.KindUnknown, nil
	}
}

func (s *Store) Peel(id hash.ID) (hash.ID, bool, error) {
	k, err := s.Classify(id)
	if err != nil {
		return hash.ID{}, false, err
	}
	if k != hash.KindTag {
		return hash.ID{}, false, nil
	}

	enc, err := s.EncodedObject(plumbing.TagObject, id)
	if err != nil {
		return hash.ID{}, false, err
	}
	tag := &object.Tag{}
	if err := tag.Decode(enc); err != nil {
		return hash.ID{}, false, err
	}
	return tag.Target, true, nil
}

var (
	_ hash.Source       = (*Store)(nil)
	_ hash.Dereferencer = (*Store)(nil)
)
