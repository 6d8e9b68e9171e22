package index

import (
	"os"

	"github.com/go-git/go-billy/v5"
)

// lockSuffix names the lock file relative to the canonical index path
// (spec §4.4.2).
const lockSuffix = ".lock"

// lock is the write-side protocol every Save goes through: create
// <path>.lock with O_CREAT|O_EXCL, stream the new contents into it, then
// either rename it over the canonical path (Commit) or remove it (Rollback).
// COMMIT_LOCK semantics are enforced by callers always reaching one or the
// other before returning.
type lock struct {
	fs        billy.Filesystem
	path      string
	lockPath  string
	file      billy.File
	committed bool
}

func acquireLock(fs billy.Filesystem, path string) (*lock, error) {
	lockPath := path + lockSuffix
	f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockHeld
		}
		return nil, err
	}
	return &lock{fs: fs, path: path, lockPath: lockPath, file: f}, nil
}

func (l *lock) Writer() billy.File { return l.file }

func (l *lock) Commit() error {
	if err := l.file.Close(); err != nil {
		l.fs.Remove(l.lockPath)
		return err
	}
	if err := l.fs.Rename(l.lockPath, l.path); err != nil {
		return err
	}
	l.committed = true
	return nil
}

func (l *lock) Rollback() error {
	if l.committed {
		return nil
	}
	l.file.Close()
	return l.fs.Remove(l.lockPath)
}
