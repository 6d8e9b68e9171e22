package index

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/nthall/gitcore/format/cindex"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
	"github.com/nthall/gitcore/plumbing/filemode"
	"github.com/nthall/gitcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) (*Index, *storage.Store, string) {
	t.Helper()
	fs := memfs.New()
	idx, err := Open(fs, "index", hash.SHA1)
	require.NoError(t, err)
	store := storage.New(fs, hash.SHA1)
	return idx, store, "index"
}

func blobEntry(t *testing.T, store *storage.Store, name, content string) *cindex.Entry {
	t.Helper()
	id, err := store.Write(plumbing.BlobObject, []byte(content))
	require.NoError(t, err)
	return &cindex.Entry{Name: name, Hash: id, Mode: filemode.Regular, Size: uint32(len(content))}
}

func TestAddRemoveRename(t *testing.T) {
	idx, store, _ := newTestIndex(t)

	e1 := blobEntry(t, store, "b.txt", "bbb")
	e2 := blobEntry(t, store, "a.txt", "aaa")

	require.NoError(t, idx.Add(e1, AddOptions{OkToAdd: true}))
	require.NoError(t, idx.Add(e2, AddOptions{OkToAdd: true}))

	names := []string{}
	for _, e := range idx.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	err := idx.Add(e1, AddOptions{})
	assert.ErrorIs(t, err, ErrEntryExists)

	removed, err := idx.Remove("a.txt")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Len(t, idx.Entries(), 1)

	_, err = idx.Remove("a.txt")
	assert.ErrorIs(t, err, cindex.ErrEntryNotFound)

	require.NoError(t, idx.Rename("b.txt", "c.txt"))
	require.Len(t, idx.Entries(), 1)
	assert.Equal(t, "c.txt", idx.Entries()[0].Name)
}

func TestAddDFConflict(t *testing.T) {
	idx, store, _ := newTestIndex(t)

	file := blobEntry(t, store, "a/b.txt", "x")
	require.NoError(t, idx.Add(file, AddOptions{OkToAdd: true}))

	conflicting := blobEntry(t, store, "a", "y")
	err := idx.Add(conflicting, AddOptions{OkToAdd: true})
	assert.ErrorIs(t, err, ErrDFConflict)

	// SkipDFCheck bypasses the clash check.
	require.NoError(t, idx.Add(conflicting, AddOptions{OkToAdd: true, SkipDFCheck: true}))
}

func TestSaveAndReopenRoundTrip(t *testing.T) {
	fs := memfs.New()
	idx, err := Open(fs, "index", hash.SHA1)
	require.NoError(t, err)
	store := storage.New(fs, hash.SHA1)

	e := blobEntry(t, store, "file.txt", "hello")
	require.NoError(t, idx.Add(e, AddOptions{OkToAdd: true}))
	require.NoError(t, idx.Save())

	reopened, err := Open(fs, "index", hash.SHA1)
	require.NoError(t, err)
	require.Len(t, reopened.Entries(), 1)
	assert.Equal(t, "file.txt", reopened.Entries()[0].Name)
	assert.Equal(t, e.Hash, reopened.Entries()[0].Hash)
}

func TestLockHeldBlocksConcurrentSave(t *testing.T) {
	fs := memfs.New()
	idx, err := Open(fs, "index", hash.SHA1)
	require.NoError(t, err)

	l, err := acquireLock(fs, "index")
	require.NoError(t, err)
	defer l.Rollback()

	err = idx.Save()
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestWriteTreeNested(t *testing.T) {
	idx, store, _ := newTestIndex(t)

	require.NoError(t, idx.Add(blobEntry(t, store, "a.txt", "a"), AddOptions{OkToAdd: true}))
	require.NoError(t, idx.Add(blobEntry(t, store, "dir/b.txt", "b"), AddOptions{OkToAdd: true}))
	require.NoError(t, idx.Add(blobEntry(t, store, "dir/sub/c.txt", "c"), AddOptions{OkToAdd: true}))

	id, err := idx.WriteTree(store, WriteTreeOptions{})
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	kind, _, err := store.Info(id)
	require.NoError(t, err)
	assert.Equal(t, plumbing.TreeObject, kind)

	// A second call with nothing changed must reuse the cached root hash.
	id2, err := idx.WriteTree(store, WriteTreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestWriteTreeInvalidatesOnChange(t *testing.T) {
	idx, store, _ := newTestIndex(t)
	require.NoError(t, idx.Add(blobEntry(t, store, "dir/a.txt", "a"), AddOptions{OkToAdd: true}))

	id1, err := idx.WriteTree(store, WriteTreeOptions{})
	require.NoError(t, err)

	require.NoError(t, idx.Add(blobEntry(t, store, "dir/b.txt", "b"), AddOptions{OkToAdd: true}))
	id2, err := idx.WriteTree(store, WriteTreeOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestWriteTreeRejectsUnmerged(t *testing.T) {
	idx, store, _ := newTestIndex(t)
	e := blobEntry(t, store, "a.txt", "a")
	e.Stage = cindex.OurMode
	require.NoError(t, idx.Add(e, AddOptions{OkToAdd: true, SkipDFCheck: true}))

	_, err := idx.WriteTree(store, WriteTreeOptions{})
	assert.ErrorIs(t, err, ErrUnmergedEntry)
}

func TestSparseConvertAndExpand(t *testing.T) {
	idx, store, _ := newTestIndex(t)
	require.NoError(t, idx.Add(blobEntry(t, store, "keep/a.txt", "a"), AddOptions{OkToAdd: true}))
	require.NoError(t, idx.Add(blobEntry(t, store, "drop/b.txt", "b"), AddOptions{OkToAdd: true}))

	_, err := idx.WriteTree(store, WriteTreeOptions{})
	require.NoError(t, err)

	idx.SetConePatterns([]string{"keep"})
	require.NoError(t, idx.ConvertToSparse())
	assert.Equal(t, Collapsed, idx.SparseMode())

	var sawSparseDir bool
	for _, e := range idx.Entries() {
		if e.Mode == filemode.Dir {
			sawSparseDir = true
			assert.True(t, e.SkipWorktree)
			assert.Equal(t, "drop", e.Name)
		}
	}
	assert.True(t, sawSparseDir, "expected a collapsed sparse-directory entry for drop/")

	require.NoError(t, idx.ExpandTo(store, "drop/b.txt"))
	var names []string
	for _, e := range idx.Entries() {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "drop/b.txt")
}

func TestRefreshDetectsSizeChange(t *testing.T) {
	fs := memfs.New()
	idx, err := Open(fs, "index", hash.SHA1)
	require.NoError(t, err)
	store := storage.New(fs, hash.SHA1)

	e := blobEntry(t, store, "a.txt", "short")
	require.NoError(t, idx.Add(e, AddOptions{OkToAdd: true}))

	f, err := fs.Create("a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("a much longer piece of content"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stale, err := idx.Refresh(RefreshOptions{})
	require.NoError(t, err)
	assert.Contains(t, stale, "a.txt")
}
