package index

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/nthall/gitcore/format/cindex"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// ObjectStore is the subset of storage.Store the index package needs: writing
// freshly computed trees (cache-tree) and reading existing ones (sparse
// expand/collapse).
type ObjectStore interface {
	Write(t plumbing.ObjectType, content []byte) (hash.ID, error)
	Read(id hash.ID) (plumbing.ObjectType, []byte, error)
}

// Index is the in-memory staging area, backed by an on-disk cindex.Index.
// Entries are kept sorted by Name at all times (spec invariant I1).
type Index struct {
	fs   billy.Filesystem
	path string
	algo hash.Algo

	raw *cindex.Index

	cacheRoot *cacheNode
	sparse    sparseState
	base      *Index // non-nil when raw.Link names a split-index base
}

// Open loads path through fs, or returns a fresh empty v2 index if it does
// not yet exist (spec §4.4.2: "a read-only load does not lock").
func Open(fs billy.Filesystem, path string, algo hash.Algo) (*Index, error) {
	idx := &Index{fs: fs, path: path, algo: algo, raw: &cindex.Index{Version: 2}}

	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}
	defer f.Close()

	dec := cindex.NewDecoder(f, algo)
	if err := dec.Decode(idx.raw); err != nil {
		return nil, err
	}

	if idx.raw.Link != nil {
		base, err := loadSplitBase(fs, path, algo, idx.raw.Link)
		if err != nil {
			return nil, err
		}
		idx.base = base
		mergeSplitBase(idx.raw, base.raw, idx.raw.Link)
	}

	return idx, nil
}

// Save writes idx back to its canonical path through the lock-file protocol
// (spec §4.4.2).
func (idx *Index) Save() (err error) {
	idx.syncCacheToRaw()

	l, err := acquireLock(idx.fs, idx.path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			l.Rollback()
		}
	}()

	enc := cindex.NewEncoder(l.Writer(), idx.algo)
	if err = enc.Encode(idx.raw); err != nil {
		return err
	}
	return l.Commit()
}

// Entries returns the live, sorted entry slice. Callers must not reorder it
// directly; use Add/Remove/Rename.
func (idx *Index) Entries() []*cindex.Entry { return idx.raw.Entries }

func (idx *Index) findInsertionPoint(name string, stage cindex.Stage) int {
	return sort.Search(len(idx.raw.Entries), func(i int) bool {
		e := idx.raw.Entries[i]
		if e.Name != name {
			return e.Name > name
		}
		return e.Stage >= stage
	})
}

func (idx *Index) findExact(name string, stage cindex.Stage) int {
	i := idx.findInsertionPoint(name, stage)
	if i < len(idx.raw.Entries) && idx.raw.Entries[i].Name == name && idx.raw.Entries[i].Stage == stage {
		return i
	}
	return -1
}

// AddOptions controls Add's behavior (spec §4.4.3).
type AddOptions struct {
	OkToAdd       bool // not consulted: Add inserts a new path/stage whether or not this is set
	OkToReplace   bool // permit overwriting an existing entry at that path/stage
	SkipDFCheck   bool // skip the file/directory clash check
	JustAppend    bool // caller asserts entry.Name sorts after every existing entry
	NewOnly       bool // no-op if an entry already exists, instead of erroring
	KeepCacheTree bool // do not invalidate the enclosing cache-tree chain
}

// Add inserts or replaces entry, preserving sort order (I1) unless JustAppend
// is set by a caller that already knows it is appending in order.
func (idx *Index) Add(entry *cindex.Entry, opts AddOptions) error {
	existing := idx.findExact(entry.Name, entry.Stage)

	if existing >= 0 {
		if opts.NewOnly {
			return nil
		}
		if !opts.OkToReplace {
			return fmt.Errorf("%w: %s", ErrEntryExists, entry.Name)
		}
		idx.raw.Entries[existing] = entry
	} else {
		if !opts.SkipDFCheck {
			if conflict, ok := idx.dfConflict(entry.Name); ok {
				return fmt.Errorf("%w: %s clashes with %s", ErrDFConflict, entry.Name, conflict)
			}
		}
		if opts.JustAppend {
			idx.raw.Entries = append(idx.raw.Entries, entry)
		} else {
			i := idx.findInsertionPoint(entry.Name, entry.Stage)
			idx.raw.Entries = append(idx.raw.Entries, nil)
			copy(idx.raw.Entries[i+1:], idx.raw.Entries[i:])
			idx.raw.Entries[i] = entry
		}
	}

	if !opts.KeepCacheTree {
		idx.invalidatePath(entry.Name)
	}
	return nil
}

// dfConflict reports whether name would clash with an existing entry: either
// name is itself a prefix-directory of an existing entry, or an existing
// entry is a prefix-directory of name.
func (idx *Index) dfConflict(name string) (string, bool) {
	dirPrefix := name + "/"
	for _, e := range idx.raw.Entries {
		if strings.HasPrefix(e.Name, dirPrefix) {
			return e.Name, true
		}
		if strings.HasPrefix(name, e.Name+"/") {
			return e.Name, true
		}
	}
	return "", false
}

// Remove deletes every entry at path (any stage) and invalidates the
// enclosing cache-tree chain (spec §4.4.3).
func (idx *Index) Remove(path string) ([]*cindex.Entry, error) {
	var removed []*cindex.Entry
	kept := idx.raw.Entries[:0:0]
	for _, e := range idx.raw.Entries {
		if e.Name == path {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	idx.raw.Entries = kept
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: %s", cindex.ErrEntryNotFound, path)
	}
	idx.invalidatePath(path)
	return removed, nil
}

// Rename removes every entry at oldPath and re-adds it at newPath (spec
// §4.4.3: "remove at old, add at new").
func (idx *Index) Rename(oldPath, newPath string) error {
	removed, err := idx.Remove(oldPath)
	if err != nil {
		return err
	}
	for _, e := range removed {
		e.Name = newPath
		if err := idx.Add(e, AddOptions{OkToReplace: true, SkipDFCheck: true}); err != nil {
			return err
		}
	}
	return nil
}

// RefreshOptions controls Refresh's tolerance (spec §4.4.3).
type RefreshOptions struct {
	AllowUnmerged  bool // do not error on stage>0 entries; just skip them
	IgnoreMissing  bool // do not error when a working-tree file is absent
}

// Refresh lstats each stage-0 entry's working-tree path and updates its
// stat-cache fields, returning the paths found out of date.
func (idx *Index) Refresh(opts RefreshOptions) ([]string, error) {
	var stale []string
	for _, e := range idx.raw.Entries {
		if e.Stage != cindex.Merged {
			if !opts.AllowUnmerged {
				return stale, fmt.Errorf("%w: %s", ErrUnmergedEntry, e.Name)
			}
			continue
		}

		fi, err := idx.fs.Lstat(e.Name)
		if err != nil {
			if os.IsNotExist(err) {
				if !opts.IgnoreMissing {
					return stale, fmt.Errorf("%w: %s", os.ErrNotExist, e.Name)
				}
				stale = append(stale, e.Name)
				continue
			}
			return stale, err
		}

		if fi.IsDir() || uint32(fi.Size()) != e.Size || !sameSecond(fi.ModTime(), e.ModifiedAt) {
			stale = append(stale, e.Name)
			e.Size = uint32(fi.Size())
			e.ModifiedAt = fi.ModTime()
		}
	}
	return stale, nil
}

func sameSecond(a, b time.Time) bool { return a.Unix() == b.Unix() }
