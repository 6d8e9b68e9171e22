package cindex

import (
	"bytes"
	"testing"
	"time"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing/filemode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobID(b byte) hash.ID {
	raw := make([]byte, 20)
	raw[0] = b
	id, ok := hash.FromBytes(hash.SHA1, raw)
	if !ok {
		panic("bad test id")
	}
	return id
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	idx := &Index{
		Version: 2,
		Entries: []*Entry{
			{
				Hash:       blobID(1),
				Name:       "go/example.go",
				CreatedAt:  time.Unix(1234, 5678),
				ModifiedAt: time.Unix(4321, 8765),
				Dev:        1, Inode: 2,
				Mode: filemode.Regular,
				UID:  1000, GID: 1000,
				Size: 42,
			},
			{
				Hash: blobID(2),
				Name: "a/very/long/deeply/nested/path/that/exercises/padding/arithmetic.txt",
				Mode: filemode.Regular,
			},
			{
				Hash:         blobID(3),
				Name:         "intent.txt",
				Mode:         filemode.Regular,
				IntentToAdd:  true,
				SkipWorktree: true,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.Equal(t, idx.Version, got.Version)
	require.Len(t, got.Entries, 3)
	for i, want := range idx.Entries {
		g := got.Entries[i]
		assert.Equal(t, want.Hash, g.Hash)
		assert.Equal(t, want.Name, g.Name)
		assert.Equal(t, want.Mode, g.Mode)
		assert.Equal(t, want.IntentToAdd, g.IntentToAdd)
		assert.Equal(t, want.SkipWorktree, g.SkipWorktree)
	}
}

func TestEncodeDecodeCacheTree(t *testing.T) {
	idx := &Index{
		Version: 2,
		Entries: []*Entry{
			{Hash: blobID(1), Name: "a.txt", Mode: filemode.Regular},
		},
		Cache: &CacheTree{
			Entries: []CacheTreeEntry{
				{Path: "", EntryCount: 1, Trees: 1, Hash: blobID(9)},
				{Path: "sub", EntryCount: -1, Trees: 0},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.NotNil(t, got.Cache)
	require.Len(t, got.Cache.Entries, 2)
	assert.True(t, got.Cache.Entries[0].Valid())
	assert.Equal(t, blobID(9), got.Cache.Entries[0].Hash)
	assert.False(t, got.Cache.Entries[1].Valid())
}

func TestEncodeDecodeResolveUndo(t *testing.T) {
	idx := &Index{
		Version: 2,
		ResolveUndo: &ResolveUndo{
			Entries: []ResolveUndoEntry{
				{
					Path: "go/example.go",
					Stages: map[Stage]hash.ID{
						AncestorMode: blobID(1),
						OurMode:      blobID(2),
						TheirMode:    blobID(3),
					},
				},
				{
					Path: "haskal/haskal.hs",
					Stages: map[Stage]hash.ID{
						OurMode:   blobID(4),
						TheirMode: blobID(5),
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.NotNil(t, got.ResolveUndo)
	require.Len(t, got.ResolveUndo.Entries, 2)
	assert.Equal(t, "go/example.go", got.ResolveUndo.Entries[0].Path)
	assert.Len(t, got.ResolveUndo.Entries[0].Stages, 3)
	assert.Len(t, got.ResolveUndo.Entries[1].Stages, 2)
}

func TestEncodeDecodeUnknownExtension(t *testing.T) {
	idx := &Index{
		Version: 2,
		UnknownExtensions: []Extension{
			{Signature: [4]byte{'U', 'N', 'T', 'R'}, Data: []byte("opaque-bytes")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.Len(t, got.UnknownExtensions, 1)
	assert.Equal(t, [4]byte{'U', 'N', 'T', 'R'}, got.UnknownExtensions[0].Signature)
	assert.Equal(t, []byte("opaque-bytes"), got.UnknownExtensions[0].Data)
}

func TestEncodeDecodeLink(t *testing.T) {
	idx := &Index{
		Version: 2,
		Link: &Link{
			BaseID:        blobID(7),
			DeleteBitmap:  []byte{0x01, 0x02, 0x03},
			ReplaceBitmap: []byte{0xaa, 0xbb},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.NotNil(t, got.Link)
	assert.Equal(t, blobID(7), got.Link.BaseID)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.Link.DeleteBitmap)
	assert.Equal(t, []byte{0xaa, 0xbb}, got.Link.ReplaceBitmap)
}

func TestEncodeDecodeEndOfIndexEntry(t *testing.T) {
	idx := &Index{
		Version:         2,
		EndOfIndexEntry: &EndOfIndexEntry{Offset: 12, Hash: blobID(3)},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	got := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(got))

	require.NotNil(t, got.EndOfIndexEntry)
	assert.Equal(t, uint32(12), got.EndOfIndexEntry.Offset)
	assert.Equal(t, blobID(3), got.EndOfIndexEntry.Hash)
}

func TestDecoderRejectsBadSignature(t *testing.T) {
	buf := bytes.NewReader([]byte("XXXX\x00\x00\x00\x02\x00\x00\x00\x00"))
	err := NewDecoder(buf, hash.SHA1).Decode(&Index{})
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestDecoderRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(signature[:])
	require.NoError(t, writeU32(&buf, 99))
	require.NoError(t, writeU32(&buf, 0))

	err := NewDecoder(bytes.NewReader(buf.Bytes()), hash.SHA1).Decode(&Index{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecoderRejectsBadChecksum(t *testing.T) {
	idx := &Index{Version: 2}
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, hash.SHA1).Encode(idx))

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xff

	err := NewDecoder(bytes.NewReader(corrupt), hash.SHA1).Decode(&Index{})
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}

func TestIndexAddEntryRemove(t *testing.T) {
	idx := &Index{}
	e := idx.Add("foo.txt")
	e.Hash = blobID(1)

	got, err := idx.Entry("foo.txt")
	require.NoError(t, err)
	assert.Equal(t, blobID(1), got.Hash)

	removed, err := idx.Remove("foo.txt")
	require.NoError(t, err)
	assert.Equal(t, blobID(1), removed.Hash)

	_, err = idx.Entry("foo.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
