package index

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/nthall/gitcore/format/cindex"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/object"
	"github.com/nthall/gitcore/plumbing"
	"github.com/nthall/gitcore/plumbing/filemode"
)

// cacheNode is the in-memory, navigable form of one cache-tree span (spec
// §4.4.3, grounded on cache-tree.c). children is a treemap rather than a
// plain map because the on-disk TREE extension is a sorted-by-name array
// located via binary search (subtree_pos); a treemap gives the same ordered
// traversal for free when flattening back to that array.
type cacheNode struct {
	entryCount int // -1 means invalidated
	hash       hash.ID
	children   *treemap.Map // string name -> *cacheNode
}

func newCacheNode() *cacheNode {
	return &cacheNode{entryCount: -1, children: treemap.NewWithStringComparator()}
}

// ensureCacheRoot materializes idx.cacheRoot from idx.raw.Cache on first use.
func (idx *Index) ensureCacheRoot() *cacheNode {
	if idx.cacheRoot != nil {
		return idx.cacheRoot
	}
	if idx.raw.Cache == nil || len(idx.raw.Cache.Entries) == 0 {
		idx.cacheRoot = newCacheNode()
		return idx.cacheRoot
	}
	root, _ := buildCacheNode(idx.raw.Cache.Entries, 0)
	idx.cacheRoot = root
	return idx.cacheRoot
}

// buildCacheNode reconstructs one subtree (and everything below it) from the
// flat pre-order TREE extension array, returning the next unconsumed index.
func buildCacheNode(entries []cindex.CacheTreeEntry, pos int) (*cacheNode, int) {
	e := entries[pos]
	node := &cacheNode{entryCount: e.EntryCount, hash: e.Hash, children: treemap.NewWithStringComparator()}
	next := pos + 1
	for i := 0; i < e.Trees; i++ {
		childName := entries[next].Path
		var child *cacheNode
		child, next = buildCacheNode(entries, next)
		node.children.Put(childName, child)
	}
	return node, next
}

// flattenCacheNode serializes node (named name from its parent's point of
// view; "" for the root) back to pre-order form.
func flattenCacheNode(name string, node *cacheNode, out *[]cindex.CacheTreeEntry) {
	*out = append(*out, cindex.CacheTreeEntry{
		Path:       name,
		EntryCount: node.entryCount,
		Trees:      node.children.Size(),
		Hash:       node.hash,
	})
	for _, k := range node.children.Keys() {
		childName := k.(string)
		v, _ := node.children.Get(k)
		flattenCacheNode(childName, v.(*cacheNode), out)
	}
}

// dirname returns path's containing directory, or "" at the root.
func dirname(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func splitComponents(dir string) []string {
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

// invalidatePath walks path's directory chain invalidating the root and
// every ancestor span up to (but not including) the leaf file itself —
// matching cache_tree_invalidate_path's "self first, then recurse into the
// matching subtree only" (spec §4.4.3, supplemented from cache-tree.c).
func (idx *Index) invalidatePath(path string) {
	root := idx.ensureCacheRoot()
	invalidateChain(root, splitComponents(dirname(path)))
}

func invalidateChain(node *cacheNode, components []string) {
	node.entryCount = -1
	if len(components) == 0 {
		return
	}
	v, found := node.children.Get(components[0])
	if !found {
		return
	}
	invalidateChain(v.(*cacheNode), components[1:])
}

// WriteTreeOptions controls WriteTree (spec §4.4.3).
type WriteTreeOptions struct {
	DryRun     bool // compute ids but do not write objects to store
	MissingOK  bool // keep the computed id when writing a tree to store fails; referenced objects are not checked for presence
}

// WriteTree recomputes and returns the root tree id for idx's current
// entries, writing any invalidated subtree to store and caching the result.
// Spans still marked valid are reused without rehashing (spec §4.4.3,
// testable property: unrelated subtrees are not rewritten).
func (idx *Index) WriteTree(store ObjectStore, opts WriteTreeOptions) (hash.ID, error) {
	for _, e := range idx.raw.Entries {
		if e.Stage != cindex.Merged {
			return hash.ID{}, ErrUnmergedEntry
		}
	}

	root := idx.ensureCacheRoot()
	id, consumed, err := writeTreeSpan(store, root, idx.raw.Entries, 0, len(idx.raw.Entries), "", opts, idx.algo)
	if err != nil {
		return hash.ID{}, err
	}
	if consumed != len(idx.raw.Entries) {
		return hash.ID{}, fmt.Errorf("index: cache-tree span mismatch (consumed %d of %d entries)", consumed, len(idx.raw.Entries))
	}
	return id, nil
}

// writeTreeSpan computes the tree id for entries[lo:hi], all sharing prefix,
// reusing node's cached hash when still valid.
func writeTreeSpan(store ObjectStore, node *cacheNode, entries []*cindex.Entry, lo, hi int, prefix string, opts WriteTreeOptions, algo hash.Algo) (hash.ID, int, error) {
	if node.entryCount >= 0 && lo+node.entryCount <= hi {
		return node.hash, node.entryCount, nil
	}

	var treeEntries []object.TreeEntry
	i := lo
	for i < hi {
		e := entries[i]
		rel := strings.TrimPrefix(e.Name, prefix)
		if slash := strings.IndexByte(rel, '/'); slash >= 0 {
			component := rel[:slash]
			childPrefix := prefix + component + "/"
			child := childNode(node, component)
			childHash, consumed, err := writeTreeSpan(store, child, entries, i, hi, childPrefix, opts, algo)
			if err != nil {
				return hash.ID{}, 0, err
			}
			treeEntries = append(treeEntries, object.TreeEntry{Name: component, Mode: filemode.Dir, Hash: childHash})
			node.children.Put(component, child)
			i += consumed
		} else {
			treeEntries = append(treeEntries, object.TreeEntry{Name: rel, Mode: e.Mode, Hash: e.Hash})
			i++
		}
	}

	object.SortEntries(treeEntries)
	raw := encodeTreeEntries(treeEntries)

	id := computeTreeID(algo, raw)
	if !opts.DryRun {
		written, err := store.Write(plumbing.TreeObject, raw)
		if err != nil {
			if !opts.MissingOK {
				return hash.ID{}, 0, err
			}
		} else {
			id = written
		}
	}

	node.hash = id
	node.entryCount = i - lo
	return id, node.entryCount, nil
}

func childNode(parent *cacheNode, name string) *cacheNode {
	if v, ok := parent.children.Get(name); ok {
		return v.(*cacheNode)
	}
	return newCacheNode()
}

func encodeTreeEntries(entries []object.TreeEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.Hash.Bytes())
	}
	return buf.Bytes()
}

func computeTreeID(algo hash.Algo, raw []byte) hash.ID {
	h := hash.New(algo)
	fmt.Fprintf(h, "%s %d\x00", plumbing.TreeObject, len(raw))
	h.Write(raw)
	sum := h.Sum(nil)
	id, _ := hash.FromBytes(algo, sum)
	return id
}

// syncCacheToRaw flattens the live cacheRoot back into idx.raw.Cache so Save
// persists it; called before encoding.
func (idx *Index) syncCacheToRaw() {
	if idx.cacheRoot == nil {
		return
	}
	var flat []cindex.CacheTreeEntry
	flattenCacheNode("", idx.cacheRoot, &flat)
	idx.raw.Cache = &cindex.CacheTree{Entries: flat}
}
