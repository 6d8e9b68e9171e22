package packfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltaAllCopy(t *testing.T) {
	base := []byte("hello world")

	var delta []byte
	delta = appendLEB128(delta, uint64(len(base)))
	delta = appendLEB128(delta, uint64(len(base)))
	// COPY(offset=0, size=11): size byte 11 fits in one size byte (0x10).
	delta = append(delta, 0x80|0x10|0x01, 0x00, 0x0b)

	got, err := applyDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestApplyDeltaCopyAndInsert(t *testing.T) {
	base := []byte("hello world")

	var delta []byte
	target := []byte("hello there")
	delta = appendLEB128(delta, uint64(len(base)))
	delta = appendLEB128(delta, uint64(len(target)))
	// COPY(offset=0, size=6): "hello "
	delta = append(delta, 0x80|0x01|0x10, 0x00, 0x06)
	// INSERT "there" (5 bytes)
	delta = append(delta, 5, 't', 'h', 'e', 'r', 'e')

	got, err := applyDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApplyDeltaRejectsSizeMismatch(t *testing.T) {
	base := []byte("hello world")

	var delta []byte
	delta = appendLEB128(delta, uint64(len(base)+1))
	delta = appendLEB128(delta, uint64(len(base)))

	_, err := applyDelta(base, delta)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestApplyDeltaRejectsOutOfRangeCopy(t *testing.T) {
	base := []byte("hi")

	var delta []byte
	delta = appendLEB128(delta, uint64(len(base)))
	delta = appendLEB128(delta, 5)
	// COPY(offset=0, size=5), but base is only 2 bytes.
	delta = append(delta, 0x80|0x01|0x10, 0x00, 0x05)

	_, err := applyDelta(base, delta)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func appendLEB128(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}
