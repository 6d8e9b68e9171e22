package object

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
	"github.com/nthall/gitcore/plumbing/filemode"
)

var (
	ErrDuplicateTreeEntry = errors.New("duplicate tree entry name")
	ErrTreeEntryUnordered = errors.New("tree entries out of canonical order")
	ErrMalformedTreeEntry = errors.New("malformed tree entry")
)

// TreeEntry is one (mode, name, child-id) triple (spec §3).
type TreeEntry struct {
	Name string
	Mode filemode.FileMode
	Hash hash.ID
}

// Tree is an ordered sequence of entries representing a directory (spec §3).
// Parsing decodes the entry list but keeps the raw buffer resident so
// callers can iterate with zero extra copies.
type Tree struct {
	base
	Entries []TreeEntry
	raw     []byte
}

// sortName returns the name used for tree-entry comparison: only Dir
// entries sort as if their name ended in "/". Gitlinks (Submodule) and all
// other entries compare by their plain name.
func sortName(e TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// treeEntryLess implements the canonical tree-entry comparison (spec §3): byte
// lexicographic on name, except a subtree entry is compared as if its name
// ended in "/".
func treeEntryLess(a, b TreeEntry) bool {
	return sortName(a) < sortName(b)
}

// SortEntries canonicalizes e in place using the tree-entry comparison.
// Spec invariant: a tree's id is a function only of its entry set, never of
// insertion order (testable property 3), because entries are always
// canonicalized before hashing.
func SortEntries(e []TreeEntry) {
	sort.Slice(e, func(i, j int) bool { return treeEntryLess(e[i], e[j]) })
}

// NewTree builds a Tree record from an arbitrary-order entry set, validating
// and canonicalizing it. Duplicate names are rejected (spec §3).
func NewTree(algo hash.Algo, entries []TreeEntry) (*Tree, error) {
	cp := make([]TreeEntry, len(entries))
	copy(cp, entries)
	SortEntries(cp)

	for i := 1; i < len(cp); i++ {
		if cp[i-1].Name == cp[i].Name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTreeEntry, cp[i].Name)
		}
	}

	t := &Tree{Entries: cp}
	t.kind = plumbing.TreeObject
	raw, err := t.encode()
	if err != nil {
		return nil, err
	}
	t.raw = raw
	h := hash.New(algo)
	fmt.Fprintf(h, "%s %d\x00", plumbing.TreeObject, len(raw))
	h.Write(raw)
	sum := h.Sum(nil)
	id, _ := hash.FromBytes(algo, sum)
	t.id = id
	t.parsed = true
	return t, nil
}

func (t *Tree) encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range t.Entries {
		if bytes.ContainsAny([]byte(e.Name), "/\x00") {
			return nil, fmt.Errorf("%w: name %q", ErrMalformedTreeEntry, e.Name)
		}
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.Hash.Bytes())
	}
	return buf.Bytes(), nil
}

// Decode parses a tree record's raw payload into Entries, validating strict
// canonical ordering and rejecting duplicates (an object whose bytes are not
// canonically ordered is corrupt: its id could never have been produced by
// NewTree).
func (t *Tree) Decode(o plumbing.EncodedObject) error {
	if o.Type() != plumbing.TreeObject {
		return ErrUnsupportedObject
	}

	r, err := o.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	algo := o.Hash().Algo()
	entries, err := decodeTreeEntries(raw, algo)
	if err != nil {
		return err
	}

	for i := 1; i < len(entries); i++ {
		if !treeEntryLess(entries[i-1], entries[i]) {
			if entries[i-1].Name == entries[i].Name {
				return fmt.Errorf("%w: %q", ErrDuplicateTreeEntry, entries[i].Name)
			}
			return ErrTreeEntryUnordered
		}
	}

	t.kind = plumbing.TreeObject
	t.id = o.Hash()
	t.Entries = entries
	t.raw = raw
	t.parsed = true
	return nil
}

func decodeTreeEntries(raw []byte, algo hash.Algo) ([]TreeEntry, error) {
	var entries []TreeEntry
	rd := bufio.NewReader(bytes.NewReader(raw))
	for {
		modeName, err := rd.ReadString(0)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTreeEntry, err)
		}
		modeName = modeName[:len(modeName)-1] // drop NUL

		sp := bytes.IndexByte([]byte(modeName), ' ')
		if sp < 0 {
			return nil, ErrMalformedTreeEntry
		}
		modeStr, name := modeName[:sp], modeName[sp+1:]

		m, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: mode %q", ErrMalformedTreeEntry, modeStr)
		}
		mode := filemode.FileMode(m)
		if mode.IsMalformed() {
			return nil, fmt.Errorf("%w: mode %s", ErrMalformedTreeEntry, mode)
		}

		idBytes := make([]byte, algo.Size())
		if _, err := io.ReadFull(rd, idBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTreeEntry, err)
		}
		id, ok := hash.FromBytes(algo, idBytes)
		if !ok {
			return nil, ErrMalformedTreeEntry
		}

		entries = append(entries, TreeEntry{Name: name, Mode: mode, Hash: id})
	}
	return entries, nil
}

// Find looks up a single path component.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}
