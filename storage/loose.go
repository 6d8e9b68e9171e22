package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/nthall/gitcore/format/objfile"
	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

// loosePath splits id's hex form into "aa/bbcc…" (spec §6).
func (s *Store) loosePath(id hash.ID) string {
	h := id.String()
	return s.fs.Join(h[:2], h[2:])
}

func (s *Store) hasLooseLocked(id hash.ID) (bool, error) {
	_, err := s.fs.Stat(s.loosePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) readLooseLocked(id hash.ID) (plumbing.ObjectType, []byte, bool, error) {
	f, err := s.fs.Open(s.loosePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
	}
	defer r.Close()

	t, _ := r.Header()
	content, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
	}
	return t, content, true, nil
}

func (s *Store) infoLooseLocked(id hash.ID) (plumbing.ObjectType, int64, bool, error) {
	f, err := s.fs.Open(s.loosePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: %v", ErrObjectCorrupt, err)
	}
	defer r.Close()

	t, size := r.Header()
	return t, size, true, nil
}

// writeLooseLocked writes content to a temp file and renames it into place,
// so concurrent writers of the same id (content-addressed, hence identical
// destination) both succeed regardless of who wins the rename (spec §4.2).
func (s *Store) writeLooseLocked(t plumbing.ObjectType, content []byte) (hash.ID, error) {
	id := computeID(s.algo, t, content)

	if ok, err := s.hasLooseLocked(id); err != nil {
		return hash.ID{}, err
	} else if ok {
		return id, nil
	}

	tmp, err := s.fs.TempFile("", "obj-")
	if err != nil {
		return hash.ID{}, err
	}
	tmpName := tmp.Name()
	abort := func(cause error) (hash.ID, error) {
		tmp.Close()
		s.fs.Remove(tmpName)
		return hash.ID{}, cause
	}

	w := objfile.NewWriter(tmp, s.algo)
	if err := w.WriteHeader(t, int64(len(content))); err != nil {
		return abort(err)
	}
	if _, err := w.Write(content); err != nil {
		return abort(err)
	}
	if err := w.Close(); err != nil {
		return abort(err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return hash.ID{}, err
	}

	dir := id.String()[:2]
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		s.fs.Remove(tmpName)
		return hash.ID{}, err
	}
	if err := s.fs.Rename(tmpName, s.loosePath(id)); err != nil {
		s.fs.Remove(tmpName)
		return hash.ID{}, err
	}
	return id, nil
}

// forEachLooseLocked walks the two-level "aa/bbcc…" directory layout.
func (s *Store) forEachLooseLocked(fn func(id hash.ID) error) error {
	top, err := s.fs.ReadDir("")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, d1 := range top {
		if !d1.IsDir() || len(d1.Name()) != 2 {
			continue
		}
		sub, err := s.fs.ReadDir(d1.Name())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, d2 := range sub {
			if d2.IsDir() {
				continue
			}
			id, ok := hash.FromHex(d1.Name() + d2.Name())
			if !ok {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}
