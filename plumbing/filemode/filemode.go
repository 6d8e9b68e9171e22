// Package filemode defines the restricted set of modes a tree entry or
// index entry may carry (spec §3): regular, executable, symlink, gitlink
// (submodule) and subtree. Any other octal value is "malformed" and rejected
// when a tree is decoded.
package filemode

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
)

// FileMode is a packed POSIX-style mode restricted to the values the object
// model actually uses.
type FileMode uint32

const (
	Empty      FileMode = 0
	Dir        FileMode = 0o40000
	Regular    FileMode = 0o100644
	Deprecated FileMode = 0o100664
	Executable FileMode = 0o100755
	Symlink    FileMode = 0o120000
	Submodule  FileMode = 0o160000
)

// New parses the decimal-octal-looking ASCII mode used in tree entries and
// some diagnostic output. It performs no validation beyond "is this a
// sequence of octal-looking digits" — producing a malformed FileMode from
// malformed input is intentionally a caller-visible bug rather than a
// silently corrected one.
func New(s string) (FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return Empty, err
	}
	return FileMode(m), nil
}

// NewFromOSFileMode maps a Go os.FileMode to the restricted set, returning
// an error when there is no equivalent (devices, sockets, pipes, temp files).
func NewFromOSFileMode(m os.FileMode) (FileMode, error) {
	if m.IsDir() {
		return Dir, nil
	}

	if m&os.ModeSymlink != 0 {
		return Symlink, nil
	}

	if m&(os.ModeNamedPipe|os.ModeSocket|os.ModeDevice|os.ModeCharDevice) != 0 {
		return Empty, fmt.Errorf("no equivalent file mode: %s", m)
	}

	if m&os.ModeTemporary != 0 {
		return Empty, fmt.Errorf("no equivalent file mode: %s", m)
	}

	if isExecutable(m) {
		return Executable, nil
	}

	return Regular, nil
}

func isExecutable(m os.FileMode) bool {
	return m&0o111 != 0
}

// Bytes returns the little-endian uint32 encoding used when a mode needs to
// be transmitted as raw bytes (diagnostic dumps only; tree entries use the
// ASCII octal form, see object.TreeEntry encoding).
func (m FileMode) Bytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(m))
	return b[:]
}

// String renders m as a zero-padded 7-digit octal string.
func (m FileMode) String() string { return fmt.Sprintf("%07o", uint32(m)) }

// IsMalformed reports whether m is anything other than the closed set of
// modes the spec allows.
func (m FileMode) IsMalformed() bool {
	switch m {
	case Dir, Regular, Deprecated, Executable, Symlink, Submodule:
		return false
	default:
		return true
	}
}

// IsRegular reports whether m names a non-executable regular file (Regular
// or Deprecated); executables are not regular here, while IsFile below also
// accepts executables and symlinks.
func (m FileMode) IsRegular() bool { return m == Regular || m == Deprecated }

// IsFile reports whether m names something with blob content: regular,
// executable or symlink, as opposed to a directory or submodule.
func (m FileMode) IsFile() bool {
	return m == Regular || m == Deprecated || m == Executable || m == Symlink
}

// ToOSFileMode converts m to the closest os.FileMode, failing for malformed
// modes (there is nothing sensible to return).
func (m FileMode) ToOSFileMode() (os.FileMode, error) {
	switch m {
	case Dir:
		return os.ModePerm | os.ModeDir, nil
	case Regular, Deprecated:
		return 0o644, nil
	case Executable:
		return 0o755, nil
	case Symlink:
		return os.ModePerm | os.ModeSymlink, nil
	case Submodule:
		return os.ModePerm | os.ModeDir, nil
	default:
		return 0, fmt.Errorf("malformed mode %s", m)
	}
}
