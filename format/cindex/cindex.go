// Package cindex implements the on-disk index (staging area) format
// (spec §4.4): a sorted sequence of path entries plus a handful of named
// extensions, most importantly the cache-tree precomputation and the
// split-index overlay.
package cindex

import (
	"errors"
	"fmt"
	"time"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing/filemode"
)

var (
	ErrUnsupportedVersion  = errors.New("unsupported index version")
	ErrMalformedSignature  = errors.New("malformed index signature")
	ErrInvalidChecksum     = errors.New("invalid index checksum")
	ErrEntryNotFound       = errors.New("index entry not found")
	ErrNegativeTimestamp   = errors.New("negative timestamps are not allowed")
	ErrUnknownExtension    = errors.New("unknown mandatory index extension")
)

var (
	signature        = [4]byte{'D', 'I', 'R', 'C'}
	treeSignature    = [4]byte{'T', 'R', 'E', 'E'}
	reucSignature    = [4]byte{'R', 'E', 'U', 'C'}
	linkSignature    = [4]byte{'l', 'i', 'n', 'k'}
	eoieSignature    = [4]byte{'E', 'O', 'I', 'E'}
)

// VersionRange bounds the formats this package reads and writes. Versions
// 2 and 3 are supported in full; version 4's path-prefix name compression
// is not implemented (see DESIGN.md) since nothing in this core requires
// the smaller on-disk size it buys.
var VersionRange = struct{ Min, Max uint32 }{Min: 2, Max: 3}

const extendedVersion = 3

// Stage identifies which side of a conflict an entry represents (spec §4.4).
type Stage int

const (
	Merged       Stage = 0
	AncestorMode Stage = 1
	OurMode      Stage = 2
	TheirMode    Stage = 3
)

// Entry is one path's staged state (spec §4.4: "ordered path→(mode, id,
// stat-cache, stage) entries").
type Entry struct {
	Hash         hash.ID
	Name         string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	Dev, Inode   uint32
	Mode         filemode.FileMode
	UID, GID     uint32
	Size         uint32
	Stage        Stage
	SkipWorktree bool
	IntentToAdd  bool
}

func (e Entry) String() string {
	return fmt.Sprintf("%06o %s %d\t%s", e.Mode, e.Hash, e.Stage, e.Name)
}

// CacheTree is the 'TREE' extension: a memo of which index spans already
// hash to a known tree id, so a fresh commit's trees need not be rebuilt
// from scratch (spec §4.4 cache-tree; grounded on `cache-tree.c`).
type CacheTree struct {
	Entries []CacheTreeEntry
}

// CacheTreeEntry covers Entries consecutive index entries rooted at Path,
// of which Trees are themselves covered by a nested CacheTreeEntry. A
// negative EntryCount marks the span invalidated (spec §4.4: mutations
// invalidate bottom-up along the path-component chain).
type CacheTreeEntry struct {
	Path       string
	EntryCount int
	Trees      int
	Hash       hash.ID
}

// Valid reports whether this span's precomputed hash can still be trusted.
func (e CacheTreeEntry) Valid() bool { return e.EntryCount >= 0 }

// ResolveUndo is the 'REUC' extension: the higher-stage entries removed
// when a conflict at a path was resolved, kept so the resolution can be
// inspected or undone.
type ResolveUndo struct {
	Entries []ResolveUndoEntry
}

type ResolveUndoEntry struct {
	Path   string
	Stages map[Stage]hash.ID
}

// EndOfIndexEntry is the 'EOIE' extension: the byte offset where the
// variable-length entry list ends, letting a reader jump straight to the
// extensions without scanning every entry.
type EndOfIndexEntry struct {
	Offset uint32
	Hash   hash.ID
}

// Link is the 'link' extension backing the split-index overlay (spec
// §4.4): entries in this index replace or delete entries of a shared base
// index named by BaseID, rather than duplicating the whole tree on every
// write. The delete/replace bitmaps are kept as opaque EWAH-encoded bytes —
// this package does not implement the EWAH codec (see DESIGN.md); callers
// needing bit-level access decode them independently.
type Link struct {
	BaseID        hash.ID
	DeleteBitmap  []byte
	ReplaceBitmap []byte
}

// Extension is an index extension this package did not parse structurally
// (anything beyond TREE/REUC/link/EOIE): its raw signature and bytes are
// preserved so a round-trip through Decode/Encode doesn't silently drop
// extensions like UNTR or FSMN that a caller may still want on disk.
type Extension struct {
	Signature [4]byte
	Data      []byte
}

// Index is the in-memory form of one index file.
type Index struct {
	Version          uint32
	Entries          []*Entry
	Cache            *CacheTree
	ResolveUndo      *ResolveUndo
	EndOfIndexEntry  *EndOfIndexEntry
	Link             *Link
	UnknownExtensions []Extension
}

// Add appends a new entry for path, which the caller should not have an
// existing entry for.
func (idx *Index) Add(path string) *Entry {
	e := &Entry{Name: path}
	idx.Entries = append(idx.Entries, e)
	return e
}

// Entry returns the stage-0 entry at path, if any.
func (idx *Index) Entry(path string) (*Entry, error) {
	for _, e := range idx.Entries {
		if e.Name == path && e.Stage == Merged {
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}

// Remove deletes the stage-0 entry at path and returns it.
func (idx *Index) Remove(path string) (*Entry, error) {
	for i, e := range idx.Entries {
		if e.Name == path && e.Stage == Merged {
			idx.Entries = append(idx.Entries[:i], idx.Entries[i+1:]...)
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}
