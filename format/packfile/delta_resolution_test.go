package packfile

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
	"github.com/stretchr/testify/require"
)

// buildHelloThereDelta encodes the COPY/INSERT instruction stream turning
// "hello world" into "hello there", in the same instruction format
// applyDelta consumes (spec §6).
func buildHelloThereDelta(base, target []byte) []byte {
	var d []byte
	d = appendLEB128(d, uint64(len(base)))
	d = appendLEB128(d, uint64(len(target)))
	d = append(d, 0x80|0x01|0x10, 0x00, 0x06) // COPY(offset=0, size=6) "hello "
	rest := target[6:]
	d = append(d, byte(len(rest)))
	d = append(d, rest...)
	return d
}

func deflate(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(p)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// TestDecoderResolvesOfsDelta hand-builds a two-entry pack (a raw blob
// followed by an OFS_DELTA record referencing it) since Encoder never
// emits deltas itself, and checks Decoder reconstructs the target content.
func TestDecoderResolvesOfsDelta(t *testing.T) {
	base := []byte("hello world")
	target := []byte("hello there")
	delta := buildHelloThereDelta(base, target)

	var pack bytes.Buffer
	require.NoError(t, writeHeader(&pack, 2))

	baseOffset := int64(pack.Len())
	require.NoError(t, writeObjectHeader(&pack, plumbing.BlobObject, int64(len(base))))
	pack.Write(deflate(t, base))

	deltaOffset := int64(pack.Len())
	require.NoError(t, writeObjectHeader(&pack, plumbing.OFSDeltaObject, int64(len(target))))
	require.NoError(t, writeOfsOffset(&pack, deltaOffset-baseOffset))
	pack.Write(deflate(t, delta))

	raw := pack.Bytes()
	ra := bytes.NewReader(raw)
	dec, err := NewDecoder(ra, int64(len(raw)), hash.SHA1, nil)
	require.NoError(t, err)

	typ, data, err := dec.Get(deltaOffset)
	require.NoError(t, err)
	require.Equal(t, plumbing.BlobObject, typ)
	require.Equal(t, target, data)
}

// TestDecoderResolvesRefDelta is the REF_DELTA counterpart, using a
// BaseResolver to map the base id to its pack offset the way a sibling
// idxfile.Index would.
func TestDecoderResolvesRefDelta(t *testing.T) {
	base := []byte("hello world")
	target := []byte("hello there")
	delta := buildHelloThereDelta(base, target)

	baseID := hash.MustFromHex("95d09f2b10159347eece71399a7e2e907ea3df4f")

	var pack bytes.Buffer
	require.NoError(t, writeHeader(&pack, 2))

	baseOffset := int64(pack.Len())
	require.NoError(t, writeObjectHeader(&pack, plumbing.BlobObject, int64(len(base))))
	pack.Write(deflate(t, base))

	deltaOffset := int64(pack.Len())
	require.NoError(t, writeObjectHeader(&pack, plumbing.REFDeltaObject, int64(len(target))))
	pack.Write(baseID.Bytes())
	pack.Write(deflate(t, delta))

	raw := pack.Bytes()
	ra := bytes.NewReader(raw)
	resolver := fakeResolver{id: baseID, offset: uint64(baseOffset)}
	dec, err := NewDecoder(ra, int64(len(raw)), hash.SHA1, resolver)
	require.NoError(t, err)

	typ, data, err := dec.Get(deltaOffset)
	require.NoError(t, err)
	require.Equal(t, plumbing.BlobObject, typ)
	require.Equal(t, target, data)
}
