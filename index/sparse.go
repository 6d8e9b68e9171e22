package index

import (
	"fmt"
	"strings"

	"github.com/nthall/gitcore/format/cindex"
	"github.com/nthall/gitcore/object"
	"github.com/nthall/gitcore/plumbing"
	"github.com/nthall/gitcore/plumbing/filemode"
)

// Mode is one of the three sparse-index states (spec §4.4.4).
type Mode int

const (
	Expanded Mode = iota
	Collapsed
	PartiallySparse
)

func (m Mode) String() string {
	switch m {
	case Expanded:
		return "expanded"
	case Collapsed:
		return "collapsed"
	case PartiallySparse:
		return "partially-sparse"
	default:
		return "unknown"
	}
}

// sparseState is the cone-mode sparse-checkout configuration and the index's
// current collapse state.
type sparseState struct {
	mode     Mode
	patterns []string // cone directories kept expanded
}

// SparseMode reports idx's current collapse state.
func (idx *Index) SparseMode() Mode { return idx.sparse.mode }

// SetConePatterns replaces the directories considered "in cone" — entries
// outside every pattern are eligible for collapse by ConvertToSparse.
func (idx *Index) SetConePatterns(patterns []string) {
	idx.sparse.patterns = patterns
}

// anyInCone reports whether dir (no trailing slash; "" is the root) is, or
// might contain, a path the cone patterns keep expanded. Without the cone's
// exact matcher this is approximate: a pattern that is a prefix of dir, or
// that dir is a prefix of, counts as "in cone" — the safe direction to err
// in is treating ambiguous spans as in-cone (not collapsing) rather than
// risking silently hiding tracked paths.
func (idx *Index) anyInCone(dir string) bool {
	if len(idx.sparse.patterns) == 0 || dir == "" {
		return true
	}
	for _, p := range idx.sparse.patterns {
		if p == dir || strings.HasPrefix(p, dir+"/") || strings.HasPrefix(dir, p+"/") {
			return true
		}
	}
	return false
}

// EnsureFull expands every sparse-directory entry by reading its tree and
// splicing in its children, recursively, until none remain (spec §4.4.4).
func (idx *Index) EnsureFull(store ObjectStore) error {
	for {
		i := idx.firstSparseDirIndex()
		if i < 0 {
			break
		}
		if err := idx.expandEntryAt(store, i); err != nil {
			return err
		}
	}
	idx.sparse.mode = Expanded
	return nil
}

// ExpandTo expands just enough sparse-directory entries to make path
// addressable (spec §4.4.4).
func (idx *Index) ExpandTo(store ObjectStore, path string) error {
	for {
		i := idx.sparseDirCovering(path)
		if i < 0 {
			if idx.sparse.mode == Collapsed {
				idx.sparse.mode = PartiallySparse
			}
			return nil
		}
		if err := idx.expandEntryAt(store, i); err != nil {
			return err
		}
	}
}

// ConvertToSparse collapses every directory the cache-tree has a valid hash
// for and the cone patterns place entirely outside the cone (spec §4.4.4).
func (idx *Index) ConvertToSparse() error {
	for _, e := range idx.raw.Entries {
		if e.Stage != cindex.Merged {
			return fmt.Errorf("%w: unmerged entries present", ErrNotCollapsible)
		}
	}

	root := idx.ensureCacheRoot()
	out, _, err := idx.collapseSpan(root, idx.raw.Entries, 0, len(idx.raw.Entries), "")
	if err != nil {
		return err
	}
	idx.raw.Entries = out
	idx.sparse.mode = Collapsed
	return nil
}

func (idx *Index) collapseSpan(node *cacheNode, entries []*cindex.Entry, lo, hi int, prefix string) ([]*cindex.Entry, int, error) {
	dir := strings.TrimSuffix(prefix, "/")
	if prefix != "" && node.entryCount >= 0 && lo+node.entryCount <= hi && !idx.anyInCone(dir) {
		return []*cindex.Entry{{
			Name:         dir,
			Mode:         filemode.Dir,
			Hash:         node.hash,
			SkipWorktree: true,
		}}, node.entryCount, nil
	}

	var out []*cindex.Entry
	i := lo
	for i < hi {
		e := entries[i]
		rel := strings.TrimPrefix(e.Name, prefix)
		if slash := strings.IndexByte(rel, '/'); slash >= 0 {
			component := rel[:slash]
			childPrefix := prefix + component + "/"
			child := childNode(node, component)
			sub, consumed, err := idx.collapseSpan(child, entries, i, hi, childPrefix)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, sub...)
			i += consumed
		} else {
			out = append(out, e)
			i++
		}
	}
	return out, i - lo, nil
}

func (idx *Index) firstSparseDirIndex() int {
	for i, e := range idx.raw.Entries {
		if e.Mode == filemode.Dir {
			return i
		}
	}
	return -1
}

func (idx *Index) sparseDirCovering(path string) int {
	for i, e := range idx.raw.Entries {
		if e.Mode != filemode.Dir {
			continue
		}
		if path == e.Name || strings.HasPrefix(path, e.Name+"/") {
			return i
		}
	}
	return -1
}

func (idx *Index) expandEntryAt(store ObjectStore, i int) error {
	e := idx.raw.Entries[i]

	_, content, err := store.Read(e.Hash)
	if err != nil {
		return fmt.Errorf("index: expanding %s: %w", e.Name, err)
	}

	obj := plumbing.NewMemoryObject(e.Hash.Algo())
	obj.SetType(plumbing.TreeObject)
	w, err := obj.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	tree := &object.Tree{}
	if err := tree.Decode(obj); err != nil {
		return fmt.Errorf("index: expanding %s: %w", e.Name, err)
	}

	children := make([]*cindex.Entry, 0, len(tree.Entries))
	for _, te := range tree.Entries {
		child := &cindex.Entry{
			Name: e.Name + "/" + te.Name,
			Hash: te.Hash,
			Mode: te.Mode,
		}
		if te.Mode == filemode.Dir {
			child.SkipWorktree = true
		}
		children = append(children, child)
	}

	replaced := make([]*cindex.Entry, 0, len(idx.raw.Entries)-1+len(children))
	replaced = append(replaced, idx.raw.Entries[:i]...)
	replaced = append(replaced, children...)
	replaced = append(replaced, idx.raw.Entries[i+1:]...)
	idx.raw.Entries = replaced
	return nil
}
