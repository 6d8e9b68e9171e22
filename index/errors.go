// Package index implements the in-memory staging area (spec §4.4): mutation
// primitives over the on-disk format decoded/encoded by format/cindex, the
// lock-file write protocol, cache-tree maintenance, the sparse-index
// collapse/expand state machine, and split-index base+overlay merging.
package index

import "errors"

var (
	// ErrLockHeld is returned when <index-path>.lock already exists.
	ErrLockHeld = errors.New("index: lock file held")

	ErrEntryExists    = errors.New("index: entry already exists")
	ErrUnmergedEntry  = errors.New("index: unmerged entry")
	ErrDFConflict     = errors.New("index: file/directory conflict")
	ErrNotCollapsible = errors.New("index: cannot convert to sparse")
	ErrNotSparse      = errors.New("index: no sparse-directory entry covers path")
)
