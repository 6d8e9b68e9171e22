package cindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing/filemode"
)

const (
	entryHeaderLength = 62
	entryExtended     = 0x4000
	nameMask          = 0x0fff
	intentToAddMask   = 1 << 13
	skipWorktreeMask  = 1 << 14
)

// Decoder reads an index file, tracking a running digest so the trailing
// checksum can be verified.
type Decoder struct {
	r    io.Reader
	algo hash.Algo
	h    interface {
		io.Writer
		Sum([]byte) []byte
	}
	buf *bufio.Reader
}

// NewDecoder returns a Decoder reading from r under algo.
func NewDecoder(r io.Reader, algo hash.Algo) *Decoder {
	h := hash.New(algo)
	buf := bufio.NewReader(r)
	return &Decoder{r: io.TeeReader(buf, h), algo: algo, h: h, buf: buf}
}

// Decode parses a full index file into idx.
func (d *Decoder) Decode(idx *Index) error {
	version, count, err := d.readHeader()
	if err != nil {
		return err
	}
	idx.Version = version

	for i := uint32(0); i < count; i++ {
		e, err := d.readEntry()
		if err != nil {
			return err
		}
		idx.Entries = append(idx.Entries, e)
	}

	return d.readExtensions(idx)
}

func (d *Decoder) readHeader() (uint32, uint32, error) {
	var sig [4]byte
	if _, err := io.ReadFull(d.r, sig[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if sig != signature {
		return 0, 0, ErrMalformedSignature
	}

	version, err := readU32(d.r)
	if err != nil {
		return 0, 0, err
	}
	if version < VersionRange.Min || version > VersionRange.Max {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	count, err := readU32(d.r)
	if err != nil {
		return 0, 0, err
	}
	return version, count, nil
}

func (d *Decoder) readEntry() (*Entry, error) {
	e := &Entry{}

	fields := make([]uint32, 10)
	for i := range fields {
		v, err := readU32(d.r)
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	sec, nsec, msec, mnsec := fields[0], fields[1], fields[2], fields[3]
	e.Dev, e.Inode = fields[4], fields[5]
	e.Mode = filemode.FileMode(fields[6])
	e.UID, e.GID, e.Size = fields[7], fields[8], fields[9]

	idb := make([]byte, d.algo.Size())
	if _, err := io.ReadFull(d.r, idb); err != nil {
		return nil, err
	}
	id, ok := hash.FromBytes(d.algo, idb)
	if !ok {
		return nil, fmt.Errorf("%w: malformed entry id", ErrMalformedSignature)
	}
	e.Hash = id

	flags, err := readU16(d.r)
	if err != nil {
		return nil, err
	}

	read := entryHeaderLength
	if sec != 0 || nsec != 0 {
		e.CreatedAt = time.Unix(int64(sec), int64(nsec))
	}
	if msec != 0 || mnsec != 0 {
		e.ModifiedAt = time.Unix(int64(msec), int64(mnsec))
	}
	e.Stage = Stage((flags >> 12) & 0x3)

	if flags&entryExtended != 0 {
		extended, err := readU16(d.r)
		if err != nil {
			return nil, err
		}
		read += 2
		e.IntentToAdd = extended&intentToAddMask != 0
		e.SkipWorktree = extended&skipWorktreeMask != 0
	}

	name, consumedNUL, err := d.readEntryName(flags)
	if err != nil {
		return nil, err
	}
	e.Name = name

	nameLen := len(name)
	if consumedNUL {
		nameLen++
	}
	return e, d.padEntry(read, nameLen)
}

// readEntryName reads the path, returning whether it already consumed its
// own NUL terminator (the long-name path does; the fixed-length path
// leaves the terminator for padEntry).
func (d *Decoder) readEntryName(flags uint16) (string, bool, error) {
	n := int(flags & nameMask)
	if n < nameMask {
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", false, err
		}
		return string(buf), false, nil
	}

	// A name at or beyond the 4095-byte mask cap is NUL-terminated instead
	// of length-prefixed (spec-silent corner the on-disk format reserves
	// for rare long paths).
	var buf bytes.Buffer
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(d.r, b); err != nil {
			return "", false, err
		}
		if b[0] == 0 {
			return buf.String(), true, nil
		}
		buf.WriteByte(b[0])
	}
}

// padEntry discards the mandatory-NUL-then-align padding that follows
// every entry (spec-silent, matches the on-disk format's historical 8-byte
// record alignment).
func (d *Decoder) padEntry(read, nameLen int) error {
	entrySize := read + nameLen
	padLen := 8 - entrySize%8
	_, err := io.CopyN(io.Discard, d.r, int64(padLen))
	return err
}

// readExtensions consumes named extensions until only the trailing checksum
// remains. Since the underlying reader isn't seekable, "only the checksum
// remains" is detected by peeking one byte past algo.Size(): if that many
// bytes aren't available, there is nothing left but the digest itself.
func (d *Decoder) readExtensions(idx *Index) error {
	for {
		peeked, _ := d.buf.Peek(d.algo.Size() + 1)
		if len(peeked) <= d.algo.Size() {
			break
		}
		if err := d.readExtension(idx); err != nil {
			return err
		}
	}

	return d.readChecksum()
}

func (d *Decoder) readExtension(idx *Index) error {
	var sig [4]byte
	if _, err := io.ReadFull(d.r, sig[:]); err != nil {
		return err
	}
	size, err := readU32(d.r)
	if err != nil {
		return err
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return err
	}
	br := bytes.NewReader(body)

	switch sig {
	case treeSignature:
		t, err := decodeCacheTree(br, d.algo)
		if err != nil {
			return err
		}
		idx.Cache = t
	case reucSignature:
		ru, err := decodeResolveUndo(br, d.algo)
		if err != nil {
			return err
		}
		idx.ResolveUndo = ru
	case linkSignature:
		l, err := decodeLink(br, d.algo)
		if err != nil {
			return err
		}
		idx.Link = l
	case eoieSignature:
		e, err := decodeEndOfIndexEntry(br, d.algo)
		if err != nil {
			return err
		}
		idx.EndOfIndexEntry = e
	default:
		// Extensions this package doesn't parse structurally (UNTR, FSMN,
		// IEOT, and anything else) are preserved opaquely rather than
		// rejected, whatever the case of their first byte (a lowercase first
		// byte conventionally marks a "mandatory to understand" extension,
		// as with "link"). This decoder never returns ErrUnknownExtension;
		// it is left available for a caller that wants stricter behavior.
		idx.UnknownExtensions = append(idx.UnknownExtensions, Extension{Signature: sig, Data: body})
	}

	return nil
}

func (d *Decoder) readChecksum() error {
	expected := d.h.Sum(nil)
	got := make([]byte, d.algo.Size())
	if _, err := io.ReadFull(d.buf, got); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	if !bytes.Equal(expected, got) {
		return ErrInvalidChecksum
	}
	return nil
}

func readUntil(r io.Reader, delim byte) ([]byte, error) {
	var out []byte
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		if b[0] == delim {
			return out, nil
		}
		out = append(out, b[0])
	}
}

func decodeCacheTree(r io.Reader, algo hash.Algo) (*CacheTree, error) {
	t := &CacheTree{}
	for {
		path, err := readUntil(r, 0)
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, err
		}

		countASCII, err := readUntil(r, ' ')
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(string(countASCII))
		if err != nil {
			return nil, err
		}

		treesASCII, err := readUntil(r, '\n')
		if err != nil {
			return nil, err
		}
		trees, err := strconv.Atoi(string(treesASCII))
		if err != nil {
			return nil, err
		}

		e := CacheTreeEntry{Path: string(path), EntryCount: count, Trees: trees}
		if count >= 0 {
			idb := make([]byte, algo.Size())
			if _, err := io.ReadFull(r, idb); err != nil {
				return nil, err
			}
			id, ok := hash.FromBytes(algo, idb)
			if !ok {
				return nil, ErrMalformedSignature
			}
			e.Hash = id
		}
		t.Entries = append(t.Entries, e)
	}
}

func decodeResolveUndo(r io.Reader, algo hash.Algo) (*ResolveUndo, error) {
	ru := &ResolveUndo{}
	for {
		path, err := readUntil(r, 0)
		if err == io.EOF {
			return ru, nil
		}
		if err != nil {
			return nil, err
		}

		e := ResolveUndoEntry{Path: string(path), Stages: make(map[Stage]hash.ID)}
		var present []Stage
		for _, s := range []Stage{AncestorMode, OurMode, TheirMode} {
			octal, err := readUntil(r, 0)
			if err != nil {
				return nil, err
			}
			mode, err := strconv.ParseInt(string(octal), 8, 64)
			if err != nil {
				return nil, err
			}
			if mode != 0 {
				present = append(present, s)
			}
		}
		for _, s := range present {
			idb := make([]byte, algo.Size())
			if _, err := io.ReadFull(r, idb); err != nil {
				return nil, err
			}
			id, ok := hash.FromBytes(algo, idb)
			if !ok {
				return nil, ErrMalformedSignature
			}
			e.Stages[s] = id
		}
		ru.Entries = append(ru.Entries, e)
	}
}

func decodeLink(r io.Reader, algo hash.Algo) (*Link, error) {
	l := &Link{}
	idb := make([]byte, algo.Size())
	if _, err := io.ReadFull(r, idb); err != nil {
		return nil, err
	}
	id, ok := hash.FromBytes(algo, idb)
	if !ok {
		return nil, ErrMalformedSignature
	}
	l.BaseID = id

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// The delete bitmap is length-prefixed so the replace bitmap that
	// follows it can be split out; both are kept as opaque EWAH-encoded
	// bytes rather than decoded bit-by-bit (see DESIGN.md).
	if len(rest) < 4 {
		l.DeleteBitmap = rest
		return l, nil
	}
	n := int(binary.BigEndian.Uint32(rest[:4]))
	if n+4 > len(rest) {
		l.DeleteBitmap = rest[4:]
		return l, nil
	}
	l.DeleteBitmap = rest[4 : 4+n]
	l.ReplaceBitmap = rest[4+n:]
	return l, nil
}

func decodeEndOfIndexEntry(r io.Reader, algo hash.Algo) (*EndOfIndexEntry, error) {
	e := &EndOfIndexEntry{}
	off, err := readU32(r)
	if err != nil {
		return nil, err
	}
	e.Offset = off

	idb := make([]byte, algo.Size())
	if _, err := io.ReadFull(r, idb); err != nil {
		return nil, err
	}
	id, ok := hash.FromBytes(algo, idb)
	if !ok {
		return nil, ErrMalformedSignature
	}
	e.Hash = id
	return e, nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
