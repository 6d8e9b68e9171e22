package packfile

import (
	"bytes"
	"testing"

	"github.com/nthall/gitcore/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, 42))

	hdr, err := readHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, VersionSupported, hdr.Version)
	assert.EqualValues(t, 42, hdr.ObjectsQty)
}

func TestReadHeaderBadSignature(t *testing.T) {
	_, err := readHeader(bytes.NewReader([]byte("XXXX\x00\x00\x00\x02\x00\x00\x00\x01")))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestObjectHeaderRoundTrip(t *testing.T) {
	sizes := []int64{0, 1, 15, 16, 127, 128, 20000, 1 << 24}

	for _, sz := range sizes {
		var buf bytes.Buffer
		require.NoError(t, writeObjectHeader(&buf, plumbing.BlobObject, sz))

		br := bytes.NewReader(buf.Bytes())
		gotType, gotSize, err := readObjectHeader(br)
		require.NoError(t, err)
		assert.Equal(t, plumbing.BlobObject, gotType)
		assert.Equal(t, sz, gotSize)
	}
}

func TestOfsOffsetRoundTrip(t *testing.T) {
	offsets := []int64{0, 1, 127, 128, 16383, 16384, 1 << 20}

	for _, n := range offsets {
		var buf bytes.Buffer
		require.NoError(t, writeOfsOffset(&buf, n))

		got, err := readOfsOffset(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}
