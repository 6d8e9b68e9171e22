// Package objfile implements the loose object file encoding (spec §6):
// zlib_deflate("<kind> <decimal-size>\0<payload>"), stored at a path derived
// from the hex id.
package objfile

import (
	"bufio"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

var (
	ErrOverflow     = errors.New("write overflows declared size")
	ErrNegativeSize = errors.New("size cannot be negative")
	ErrMalformed    = errors.New("malformed loose object header")
)

// Writer writes the zlib-compressed framed encoding of a single record
// while computing its id incrementally.
type Writer struct {
	algo   hash.Algo
	raw    io.Writer
	zw     *zlib.Writer
	hasher interface {
		io.Writer
		Sum([]byte) []byte
	}
	size    int64
	written int64
	headerWritten bool
}

// NewWriter returns a Writer using algo for id computation.
func NewWriter(w io.Writer, algo hash.Algo) *Writer {
	return &Writer{algo: algo, raw: w}
}

// WriteHeader writes the framing header and readies the writer for size
// bytes of payload.
func (w *Writer) WriteHeader(t plumbing.ObjectType, size int64) error {
	if !t.Valid() {
		return plumbing.ErrInvalidType
	}
	if size < 0 {
		return ErrNegativeSize
	}

	w.zw = zlib.NewWriter(w.raw)
	w.hasher = hash.New(w.algo)
	w.size = size
	w.headerWritten = true

	header := fmt.Sprintf("%s %d\x00", t, size)
	if _, err := io.MultiWriter(w.zw, w.hasher).Write([]byte(header)); err != nil {
		return err
	}
	return nil
}

// Write appends payload bytes, erroring if they would exceed the size
// declared to WriteHeader.
func (w *Writer) Write(p []byte) (int, error) {
	if !w.headerWritten {
		return 0, fmt.Errorf("objfile: WriteHeader not called")
	}
	remaining := w.size - w.written
	if int64(len(p)) > remaining {
		n, err := io.MultiWriter(w.zw, w.hasher).Write(p[:remaining])
		w.written += int64(n)
		if err != nil {
			return n, err
		}
		return n, ErrOverflow
	}

	n, err := io.MultiWriter(w.zw, w.hasher).Write(p)
	w.written += int64(n)
	return n, err
}

// Hash returns the id of the content written so far.
func (w *Writer) Hash() hash.ID {
	sum := w.hasher.Sum(nil)
	id, _ := hash.FromBytes(w.algo, sum)
	return id
}

// Close flushes the zlib stream.
func (w *Writer) Close() error {
	if w.zw == nil {
		return nil
	}
	return w.zw.Close()
}

// Reader reads the zlib-compressed framed encoding back out.
type Reader struct {
	zr   io.ReadCloser
	br   *bufio.Reader
	typ  plumbing.ObjectType
	size int64
	read int64
}

// NewReader opens r for reading and parses the framing header.
func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(zr)
	header, err := br.ReadString(0)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	header = header[:len(header)-1]

	sp := -1
	for i, c := range header {
		if c == ' ' {
			sp = i
			break
		}
	}
	if sp < 0 {
		zr.Close()
		return nil, ErrMalformed
	}

	t, err := plumbing.ParseObjectType(header[:sp])
	if err != nil {
		zr.Close()
		return nil, err
	}
	size, err := strconv.ParseInt(header[sp+1:], 10, 64)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &Reader{zr: zr, br: br, typ: t, size: size}, nil
}

// Header returns the record's kind and declared size.
func (r *Reader) Header() (plumbing.ObjectType, int64) { return r.typ, r.size }

func (r *Reader) Read(p []byte) (int, error) {
	if r.read >= r.size {
		return 0, io.EOF
	}
	remaining := r.size - r.read
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.br.Read(p)
	r.read += int64(n)
	return n, err
}

// Close closes the underlying zlib stream.
func (r *Reader) Close() error { return r.zr.Close() }
