package cindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/nthall/gitcore/hash"
)

// Encoder writes an Index back to its on-disk form, computing the trailing
// checksum over everything written.
type Encoder struct {
	w    io.Writer
	algo hash.Algo
	h    interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewEncoder returns an Encoder writing to w under algo.
func NewEncoder(w io.Writer, algo hash.Algo) *Encoder {
	h := hash.New(algo)
	return &Encoder{w: io.MultiWriter(w, h), algo: algo, h: h}
}

// Encode writes idx in full, including its trailing checksum.
func (e *Encoder) Encode(idx *Index) error {
	if idx.Version < VersionRange.Min || idx.Version > VersionRange.Max {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, idx.Version)
	}

	if err := e.writeHeader(idx); err != nil {
		return err
	}
	for _, ent := range idx.Entries {
		if err := e.writeEntry(idx.Version, ent); err != nil {
			return err
		}
	}
	if idx.Cache != nil {
		if err := e.writeExtension(treeSignature, encodeCacheTree(idx.Cache, e.algo)); err != nil {
			return err
		}
	}
	if idx.ResolveUndo != nil {
		if err := e.writeExtension(reucSignature, encodeResolveUndo(idx.ResolveUndo, e.algo)); err != nil {
			return err
		}
	}
	if idx.Link != nil {
		if err := e.writeExtension(linkSignature, encodeLink(idx.Link)); err != nil {
			return err
		}
	}
	if idx.EndOfIndexEntry != nil {
		if err := e.writeExtension(eoieSignature, encodeEndOfIndexEntry(idx.EndOfIndexEntry)); err != nil {
			return err
		}
	}
	for _, ext := range idx.UnknownExtensions {
		if err := e.writeExtension(ext.Signature, ext.Data); err != nil {
			return err
		}
	}

	sum := e.h.Sum(nil)
	_, err := e.w.Write(sum)
	return err
}

func (e *Encoder) writeHeader(idx *Index) error {
	if _, err := e.w.Write(signature[:]); err != nil {
		return err
	}
	if err := writeU32(e.w, idx.Version); err != nil {
		return err
	}
	return writeU32(e.w, uint32(len(idx.Entries)))
}

func (e *Encoder) writeEntry(version uint32, ent *Entry) error {
	sec, nsec := timeToUnix(ent.CreatedAt)
	msec, mnsec := timeToUnix(ent.ModifiedAt)
	fields := []uint32{sec, nsec, msec, mnsec, ent.Dev, ent.Inode, uint32(ent.Mode), ent.UID, ent.GID, ent.Size}
	for _, f := range fields {
		if err := writeU32(e.w, f); err != nil {
			return err
		}
	}

	if _, err := e.w.Write(ent.Hash.Bytes()); err != nil {
		return err
	}

	nameLen := len(ent.Name)
	flagLen := nameLen
	if flagLen > nameMask {
		flagLen = nameMask
	}
	flags := uint16(ent.Stage&0x3) << 12
	flags |= uint16(flagLen)

	extended := ent.IntentToAdd || ent.SkipWorktree
	if extended {
		flags |= entryExtended
	}
	if err := writeU16(e.w, flags); err != nil {
		return err
	}

	read := entryHeaderLength
	if extended {
		var ext uint16
		if ent.IntentToAdd {
			ext |= intentToAddMask
		}
		if ent.SkipWorktree {
			ext |= skipWorktreeMask
		}
		if err := writeU16(e.w, ext); err != nil {
			return err
		}
		read += 2
	}

	if _, err := e.w.Write([]byte(ent.Name)); err != nil {
		return err
	}

	return e.padEntry(read, nameLen)
}

func (e *Encoder) padEntry(read, nameLen int) error {
	entrySize := read + nameLen
	padLen := 8 - entrySize%8
	_, err := e.w.Write(make([]byte, padLen))
	return err
}

func (e *Encoder) writeExtension(sig [4]byte, body []byte) error {
	if _, err := e.w.Write(sig[:]); err != nil {
		return err
	}
	if err := writeU32(e.w, uint32(len(body))); err != nil {
		return err
	}
	_, err := e.w.Write(body)
	return err
}

func timeToUnix(t time.Time) (uint32, uint32) {
	if t.IsZero() {
		return 0, 0
	}
	return uint32(t.Unix()), uint32(t.Nanosecond())
}

func encodeCacheTree(t *CacheTree, algo hash.Algo) []byte {
	var buf []byte
	for _, e := range t.Entries {
		buf = append(buf, []byte(e.Path)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(fmt.Sprintf("%d", e.EntryCount))...)
		buf = append(buf, ' ')
		buf = append(buf, []byte(fmt.Sprintf("%d", e.Trees))...)
		buf = append(buf, '\n')
		if e.Valid() {
			buf = append(buf, e.Hash.Bytes()...)
		}
	}
	return buf
}

func encodeResolveUndo(ru *ResolveUndo, algo hash.Algo) []byte {
	var buf []byte
	for _, e := range ru.Entries {
		buf = append(buf, []byte(e.Path)...)
		buf = append(buf, 0)
		var ids []hash.ID
		for _, s := range []Stage{AncestorMode, OurMode, TheirMode} {
			id, ok := e.Stages[s]
			mode := "0"
			if ok {
				mode = "100644"
				ids = append(ids, id)
			}
			buf = append(buf, []byte(mode)...)
			buf = append(buf, 0)
		}
		for _, id := range ids {
			buf = append(buf, id.Bytes()...)
		}
	}
	return buf
}

func encodeLink(l *Link) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(l.DeleteBitmap)))

	var buf []byte
	buf = append(buf, l.BaseID.Bytes()...)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, l.DeleteBitmap...)
	buf = append(buf, l.ReplaceBitmap...)
	return buf
}

func encodeEndOfIndexEntry(e *EndOfIndexEntry) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], e.Offset)
	out := append([]byte{}, buf[:]...)
	out = append(out, e.Hash.Bytes()...)
	return out
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}
