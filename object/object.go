package object

import (
	"errors"
	"fmt"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

var (
	ErrUnsupportedObject = errors.New("unsupported object type")
	ErrObjectKindConflict = errors.New("object kind conflict")
)

// Object is the common interface satisfied by every parsed record kind.
type Object interface {
	ID() hash.ID
	Type() plumbing.ObjectType
}

// base carries the fields common to every parsed record (spec §3's
// "common fields"): identity, classification, parse/usage state and an
// open-ended flags bitfield used by traversal algorithms (e.g. commit
// walkers marking visited nodes).
type base struct {
	id     hash.ID
	kind   plumbing.ObjectType
	parsed bool
	used   bool
	flags  uint32
}

func (b *base) ID() hash.ID              { return b.id }
func (b *base) Type() plumbing.ObjectType { return b.kind }
func (b *base) Parsed() bool             { return b.parsed }
func (b *base) Used() bool               { return b.used }
func (b *base) SetUsed(v bool)           { b.used = v }
func (b *base) Flags() uint32            { return b.flags }
func (b *base) SetFlags(f uint32)        { b.flags = f }

// Store is the minimal view of the object store (spec §4.2) the parsed
// object graph needs: random-access reads keyed by id.
type Store interface {
	EncodedObject(t plumbing.ObjectType, id hash.ID) (plumbing.EncodedObject, error)
}

// newShell allocates an empty, unparsed record of the given kind. kind may
// be plumbing.AnyObject, in which case the shell's real kind is learned
// later from the store (spec §4.3 lookup semantics).
func newShell(kind plumbing.ObjectType, id hash.ID) Object {
	b := base{id: id, kind: kind}
	switch kind {
	case plumbing.TreeObject:
		return &Tree{base: b}
	case plumbing.CommitObject:
		return &Commit{base: b}
	case plumbing.TagObject:
		return &Tag{base: b}
	case plumbing.BlobObject:
		return &Blob{base: b}
	default:
		return &unknown{base: b}
	}
}

// unknown is the shell used for AnyObject lookups before the concrete kind
// is learned from the store.
type unknown struct{ base }

func (u *unknown) promote(kind plumbing.ObjectType) Object {
	return newShell(kind, u.id)
}

func kindOf(o Object) plumbing.ObjectType { return o.Type() }

func isMoreSpecific(have, want plumbing.ObjectType) bool {
	return have == plumbing.AnyObject && want != plumbing.AnyObject
}

// Graph is the process-wide, deduplicating map from id to parsed object
// (spec invariant O1). A single Graph should be shared by every caller that
// wants identity-based deduplication; Clear drops every reference at once,
// mirroring the teacher's/source's "free the whole arena" lifecycle — and
// callers must not retain Objects obtained before a Clear.
type Graph struct {
	store Store
	objs  map[hash.ID]Object
}

// NewGraph returns a Graph reading through store.
func NewGraph(store Store) *Graph {
	return &Graph{store: store, objs: make(map[hash.ID]Object)}
}

// Lookup returns the canonical parsed Object for id, allocating an empty
// shell on first use. If an existing shell's kind conflicts with kind (and
// neither is AnyObject), the existing, more specific object is kept and a
// non-fatal ErrObjectKindConflict is returned alongside it so the caller may
// decide whether to treat it as fatal.
func (g *Graph) Lookup(kind plumbing.ObjectType, id hash.ID) (Object, error) {
	if existing, ok := g.objs[id]; ok {
		switch {
		case existing.Type() == kind || kind == plumbing.AnyObject:
			return existing, nil
		case isMoreSpecific(existing.Type(), kind):
			promoted := g.promote(existing, kind)
			g.objs[id] = promoted
			return promoted, nil
		case isMoreSpecific(kind, existing.Type()):
			return existing, nil
		default:
			return existing, fmt.Errorf("%w: %s has kind %s, asked for %s", ErrObjectKindConflict, id, existing.Type(), kind)
		}
	}

	o := newShell(kind, id)
	g.objs[id] = o
	return o, nil
}

func (g *Graph) promote(o Object, kind plumbing.ObjectType) Object {
	if u, ok := o.(*unknown); ok {
		return u.promote(kind)
	}
	return o
}

// Parse fills in o's fields from the store if it has not been parsed yet.
// Parse is idempotent: a second call is a no-op (spec §4.3).
func (g *Graph) Parse(o Object) error {
	switch v := o.(type) {
	case *Blob:
		if v.parsed {
			return nil
		}
		enc, err := g.store.EncodedObject(plumbing.BlobObject, v.id)
		if err != nil {
			return err
		}
		return v.Decode(enc)
	case *Tree:
		if v.parsed {
			return nil
		}
		enc, err := g.store.EncodedObject(plumbing.TreeObject, v.id)
		if err != nil {
			return err
		}
		return v.Decode(enc)
	case *Commit:
		if v.parsed {
			return nil
		}
		enc, err := g.store.EncodedObject(plumbing.CommitObject, v.id)
		if err != nil {
			return err
		}
		return v.Decode(enc)
	case *Tag:
		if v.parsed {
			return nil
		}
		enc, err := g.store.EncodedObject(plumbing.TagObject, v.id)
		if err != nil {
			return err
		}
		return v.Decode(enc)
	case *unknown:
		return fmt.Errorf("%w: object kind not yet known for %s", ErrUnsupportedObject, v.id)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedObject, o)
	}
}

// DerefTag follows tag targets until a non-tag object is reached (spec
// §4.3 deref_tag), loading intermediate records via Lookup+Parse.
func (g *Graph) DerefTag(t *Tag) (Object, error) {
	var cur Object = t
	for {
		tag, ok := cur.(*Tag)
		if !ok {
			return cur, nil
		}
		if err := g.Parse(tag); err != nil {
			return nil, err
		}
		next, err := g.Lookup(tag.TargetType, tag.Target)
		if err != nil && !errors.Is(err, ErrObjectKindConflict) {
			return nil, err
		}
		cur = next
	}
}

// Clear drops every parsed object. Callers must not hold references to
// Objects obtained before this call.
func (g *Graph) Clear() {
	g.objs = make(map[hash.ID]Object)
}
