package packfile

import (
	"bytes"
	"errors"
	"io"
)

// ErrInvalidDelta and ErrDeltaCmd report a corrupt or unrecognized delta
// instruction stream (spec §6: "a stream of COPY(offset,size)/INSERT(bytes)
// operations keyed by a leading byte").
var (
	ErrInvalidDelta = errors.New("invalid delta")
	ErrDeltaCmd     = errors.New("unrecognized delta command")
)

const minDeltaHeader = 2 // at minimum, two single-byte LEB128 sizes

type shiftMask struct {
	mask  byte
	shift uint
}

var copyOffsetBytes = []shiftMask{
	{0x01, 0}, {0x02, 8}, {0x04, 16}, {0x08, 24},
}

var copySizeBytes = []shiftMask{
	{0x10, 0}, {0x20, 8}, {0x40, 16},
}

const maxCopySize = 0x10000 // a zero encoded size means the full 64KiB

// applyDelta reconstructs a target payload from a base payload and a delta
// instruction stream: leb128(srcSize) leb128(targetSize) then a sequence of
// COPY (high bit set) or INSERT (high bit clear) opcodes.
func applyDelta(base, delta []byte) ([]byte, error) {
	if len(delta) < minDeltaHeader {
		return nil, ErrInvalidDelta
	}

	srcSz, delta := decodeLEB128(delta)
	if srcSz != uint64(len(base)) {
		return nil, ErrInvalidDelta
	}

	targetSz, delta := decodeLEB128(delta)

	dst := bytes.NewBuffer(make([]byte, 0, targetSz))
	remaining := targetSz

	for remaining > 0 {
		if len(delta) == 0 {
			return nil, ErrInvalidDelta
		}
		cmd := delta[0]
		delta = delta[1:]

		switch {
		case cmd&0x80 != 0:
			var offset, size uint64
			var err error
			offset, delta, err = decodeVarField(cmd, delta, copyOffsetBytes)
			if err != nil {
				return nil, err
			}
			size, delta, err = decodeVarField(cmd, delta, copySizeBytes)
			if err != nil {
				return nil, err
			}
			if size == 0 {
				size = maxCopySize
			}
			if size > remaining || offset+size > srcSz || offset+size < offset {
				return nil, ErrInvalidDelta
			}
			dst.Write(base[offset : offset+size])
			remaining -= size

		case cmd != 0:
			size := uint64(cmd)
			if size > remaining || uint64(len(delta)) < size {
				return nil, ErrInvalidDelta
			}
			dst.Write(delta[:size])
			delta = delta[size:]
			remaining -= size

		default:
			return nil, ErrDeltaCmd
		}
	}

	return dst.Bytes(), nil
}

func decodeVarField(cmd byte, delta []byte, fields []shiftMask) (uint64, []byte, error) {
	var v uint64
	for _, f := range fields {
		if cmd&f.mask == 0 {
			continue
		}
		if len(delta) == 0 {
			return 0, nil, ErrInvalidDelta
		}
		v |= uint64(delta[0]) << f.shift
		delta = delta[1:]
	}
	return v, delta, nil
}

// decodeLEB128 reads a git-style little-endian base-128 size prefix: 7 bits
// per byte, continuation in the high bit.
func decodeLEB128(b []byte) (uint64, []byte) {
	var v uint64
	var shift uint
	for len(b) > 0 {
		c := b[0]
		b = b[1:]
		v |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	return v, b
}

func decodeLEB128FromReader(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	return v, nil
}
