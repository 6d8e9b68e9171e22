// Package storage implements the object store (spec §4.2): a loose
// zlib-framed backend and a packed backend, unified behind has/info/read/
// write/for_each, plus a bulk-checkin session for streaming writes into a
// pack instead of many loose files. All on-disk access goes through a
// billy.Filesystem rooted at the repository's objects directory.
package storage

import "errors"

var (
	// ErrObjectMissing is returned when no backend holds the requested id
	// (spec §7 ObjectMissing).
	ErrObjectMissing = errors.New("object missing")

	// ErrObjectCorrupt wraps a malformed framing header, zlib stream, pack
	// entry or digest mismatch (spec §7 ObjectCorrupt).
	ErrObjectCorrupt = errors.New("object corrupt")

	// ErrNotPlugged is returned by Unplug when called without a matching Plug.
	ErrNotPlugged = errors.New("storage: no bulk-checkin session in progress")

	// ErrAlreadyPlugged is returned by Plug when a session is already open.
	ErrAlreadyPlugged = errors.New("storage: bulk-checkin session already in progress")
)
