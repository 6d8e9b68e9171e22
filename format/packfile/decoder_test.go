package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSeeker is a minimal io.WriteSeeker backed by a growable byte slice, for
// exercising Encoder.Close's header patch without touching the filesystem.
type memSeeker struct {
	buf []byte
	pos int64
}

func (m *memSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *memSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ms := &memSeeker{}
	enc, err := NewEncoder(ms, hash.SHA1)
	require.NoError(t, err)

	records := []struct {
		typ  plumbing.ObjectType
		data []byte
	}{
		{plumbing.BlobObject, []byte("hello world")},
		{plumbing.BlobObject, []byte("")},
		{plumbing.TreeObject, bytes.Repeat([]byte("x"), 4000)},
	}

	offsets := make([]int64, len(records))
	for i, r := range records {
		off, _, err := enc.Encode(r.typ, r.data)
		require.NoError(t, err)
		offsets[i] = off
	}

	_, err = enc.Close()
	require.NoError(t, err)
	assert.EqualValues(t, len(records), enc.Count())

	ra := bytes.NewReader(ms.buf)
	dec, err := NewDecoder(ra, int64(len(ms.buf)), hash.SHA1, nil)
	require.NoError(t, err)
	assert.EqualValues(t, len(records), dec.Count())

	for i, r := range records {
		typ, data, err := dec.Get(offsets[i])
		require.NoError(t, err)
		assert.Equal(t, r.typ, typ)
		assert.Equal(t, r.data, data)
	}
}

func TestEncodeDecodeForEach(t *testing.T) {
	ms := &memSeeker{}
	enc, err := NewEncoder(ms, hash.SHA1)
	require.NoError(t, err)

	want := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, w := range want {
		_, _, err := enc.Encode(plumbing.BlobObject, w)
		require.NoError(t, err)
	}
	_, err = enc.Close()
	require.NoError(t, err)

	ra := bytes.NewReader(ms.buf)
	dec, err := NewDecoder(ra, int64(len(ms.buf)), hash.SHA1, nil)
	require.NoError(t, err)

	var got [][]byte
	require.NoError(t, dec.ForEach(func(offset int64, t plumbing.ObjectType, content []byte) error {
		assert.Equal(t, plumbing.BlobObject, t)
		cp := make([]byte, len(content))
		copy(cp, content)
		got = append(got, cp)
		return nil
	}))
	assert.Equal(t, want, got)
}

// fakeResolver satisfies BaseResolver for a single REF_DELTA base.
type fakeResolver struct {
	id     hash.ID
	offset uint64
}

func (f fakeResolver) FindOffset(id hash.ID) (uint64, bool) {
	if id == f.id {
		return f.offset, true
	}
	return 0, false
}

func TestDecoderRejectsRefDeltaWithoutResolver(t *testing.T) {
	ms := &memSeeker{}
	enc, err := NewEncoder(ms, hash.SHA1)
	require.NoError(t, err)
	_, _, err = enc.Encode(plumbing.BlobObject, []byte("base content"))
	require.NoError(t, err)
	_, err = enc.Close()
	require.NoError(t, err)

	ra := bytes.NewReader(ms.buf)
	dec, err := NewDecoder(ra, int64(len(ms.buf)), hash.SHA1, nil)
	require.NoError(t, err)

	// Manually append a REF_DELTA entry naming the zero id as its base, with
	// a one-byte deflated payload, exercising the "no resolver" error path
	// rather than a full hand-built delta payload.
	var tail bytes.Buffer
	require.NoError(t, writeObjectHeader(&tail, plumbing.REFDeltaObject, 1))
	zero := hash.ZeroFor(hash.SHA1)
	tail.Write(zero.Bytes())
	tail.Write(deflate(t, []byte{0}))

	full := append(append([]byte{}, ms.buf...), tail.Bytes()...)
	ra2 := bytes.NewReader(full)
	dec2, err := NewDecoder(ra2, int64(len(full)), hash.SHA1, nil)
	require.NoError(t, err)

	_, _, err = dec2.Get(int64(len(ms.buf)))
	assert.Error(t, err)
	_ = dec
}
