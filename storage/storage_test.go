package storage

import (
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() *Store {
	return New(memfs.New(), hash.SHA1)
}

func TestWriteReadLooseRoundTrip(t *testing.T) {
	s := newStore()

	id, err := s.Write(plumbing.BlobObject, []byte("hello world"))
	require.NoError(t, err)

	ok, err := s.Has(id)
	require.NoError(t, err)
	assert.True(t, ok)

	kind, content, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, kind)
	assert.Equal(t, []byte("hello world"), content)

	kind, size, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, kind)
	assert.EqualValues(t, len("hello world"), size)
}

func TestReadMissingIsObjectMissing(t *testing.T) {
	s := newStore()
	_, _, err := s.Read(hash.MustFromHex("abcd1234abcd1234abcd1234abcd1234abcd1234"))
	assert.ErrorIs(t, err, ErrObjectMissing)
}

func TestForEachVisitsLooseAndPacked(t *testing.T) {
	s := newStore()

	looseID, err := s.Write(plumbing.BlobObject, []byte("loose"))
	require.NoError(t, err)

	require.NoError(t, s.Plug(0))
	packedID, err := s.Write(plumbing.BlobObject, []byte("packed"))
	require.NoError(t, err)
	require.NoError(t, s.Unplug())

	var got []hash.ID
	require.NoError(t, s.ForEach(func(id hash.ID) error {
		got = append(got, id)
		return nil
	}))

	assert.Contains(t, got, looseID)
	assert.Contains(t, got, packedID)

	kind, content, err := s.Read(packedID)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, kind)
	assert.Equal(t, []byte("packed"), content)
}

func TestUnplugWithZeroRecordsDiscardsPack(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Plug(0))
	require.NoError(t, s.Unplug())

	entries, err := s.fs.ReadDir("pack")
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestPlugTwiceFails(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Plug(0))
	defer s.Unplug()
	assert.ErrorIs(t, s.Plug(0), ErrAlreadyPlugged)
}

func TestUnplugWithoutPlugFails(t *testing.T) {
	s := newStore()
	assert.ErrorIs(t, s.Unplug(), ErrNotPlugged)
}

// TestBulkCheckinRollover exercises spec scenario S3: five 300 KiB blobs
// under a 1 MiB pack_size_limit must produce at least two packs, together
// holding every id exactly once and round-tripping via Read.
func TestBulkCheckinRollover(t *testing.T) {
	s := newStore()
	const sizeCap = 1 << 20 // 1 MiB

	require.NoError(t, s.Plug(sizeCap))

	ids := make([]hash.ID, 5)
	for i := range ids {
		blob := make([]byte, 300*1024)
		seed := uint32(i + 1)
		for j := range blob {
			// Incompressible-ish content per blob (varies by index) so the
			// encoder can't collapse all five into one tiny pack via zlib.
			seed = seed*1664525 + 1013904223
			blob[j] = byte(seed >> 24)
		}
		id, err := s.Write(plumbing.BlobObject, blob)
		require.NoError(t, err)
		ids[i] = id
	}

	require.NoError(t, s.Unplug())

	entries, err := s.fs.ReadDir("pack")
	require.NoError(t, err)
	var packCount int
	for _, e := range entries {
		if !e.IsDir() {
			packCount++
		}
	}
	assert.Greater(t, packCount, 2, "expected more than one pack (.pack + .idx) from a rollover")

	seen := make(map[hash.ID]bool)
	require.NoError(t, s.ForEach(func(id hash.ID) error {
		seen[id] = true
		return nil
	}))
	for _, id := range ids {
		assert.True(t, seen[id], "id %s missing after rollover", id)
		_, content, err := s.Read(id)
		require.NoError(t, err)
		assert.Len(t, content, 300*1024)
	}
}

func TestLookupPrefixAndFindUnique(t *testing.T) {
	s := newStore()

	id1, err := s.Write(plumbing.BlobObject, []byte("one"))
	require.NoError(t, err)
	id2, err := s.Write(plumbing.BlobObject, []byte("two"))
	require.NoError(t, err)

	unique, err := hash.FindUnique(s, s, id1.String()[:8], hash.HintAny)
	require.NoError(t, err)
	assert.Equal(t, id1, unique)

	// A prefix long enough to be unambiguous for either id independently.
	_, err = hash.FindUnique(s, s, id2.String()[:8], hash.HintAny)
	require.NoError(t, err)
}

func TestFindUniqueAmbiguous(t *testing.T) {
	s := newStore()

	// Craft two blobs whose ids happen to share a short prefix by brute
	// force over trivial content variations.
	var shared string
	var firstID hash.ID
	var secondID hash.ID
	for i := 0; i < 100000; i++ {
		id, err := s.Write(plumbing.BlobObject, []byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		p := id.String()[:4]
		if firstID.IsZero() {
			firstID = id
			shared = p
			continue
		}
		if p == shared {
			secondID = id
			break
		}
	}
	if secondID.IsZero() {
		t.Skip("no 4-hex-digit collision found within the search budget")
	}

	_, err := hash.FindUnique(s, s, shared, hash.HintAny)
	var amb *hash.AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.ErrorIs(t, err, hash.ErrAmbiguous)
	assert.GreaterOrEqual(t, len(amb.Candidates), 2)
	assert.Contains(t, amb.Candidates, firstID)
	assert.Contains(t, amb.Candidates, secondID)
}

func TestRefreshPicksUpPackWrittenAfterLoad(t *testing.T) {
	s := newStore()

	// Force the pack list to load (and cache as empty) before any pack exists.
	ok, err := s.Has(hash.MustFromHex("000000000000000000000000000000000000000a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Plug(0))
	id, err := s.Write(plumbing.BlobObject, []byte("late arrival"))
	require.NoError(t, err)
	require.NoError(t, s.Unplug())

	// Read triggers the refresh-once-retry path internally; this should
	// succeed without the caller doing anything special.
	_, content, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("late arrival"), content)
}
