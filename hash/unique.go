package hash

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FindUnique when no stored id matches a prefix
// (spec §4.1 find_unique).
var ErrNotFound = errors.New("id not found")

// ErrAmbiguous classifies an AmbiguousError for errors.Is callers that don't
// need the candidate set.
var ErrAmbiguous = errors.New("id abbreviation is ambiguous")

// Kind is the coarse classification FindUnique's hint filtering needs. It is
// deliberately distinct from plumbing.ObjectType (which this package cannot
// import without a dependency cycle, since plumbing itself depends on hash).
type Kind int

const (
	KindUnknown Kind = iota
	KindBlob
	KindTree
	KindCommit
	KindTag
)

// Hint narrows the candidate set a prefix may resolve to (spec §4.1): the
// caller picks one of {any, commit, committish, tree, treeish, blob}.
type Hint int

const (
	HintAny Hint = iota
	HintCommit
	HintCommittish
	HintTree
	HintTreeish
	HintBlob
)

// Source enumerates every stored id whose hex form starts with prefix,
// across however many backends the caller maintains (loose and packed, per
// §4.2). Refresh invalidates any cached view of those backends, so a
// concurrent writer's new pack becomes visible on retry.
type Source interface {
	LookupPrefix(prefix string) ([]ID, error)
	Refresh() error
}

// Dereferencer classifies a stored id and, for a tag, peels exactly one
// layer toward its target (spec §4.1 rule 2: "dereference one tag layer per
// candidate before classifying" — not a full recursive peel).
type Dereferencer interface {
	Classify(id ID) (Kind, error)
	Peel(id ID) (ID, bool, error)
}

// AmbiguousError is returned when a prefix matches more than one id under
// the requested hint; it carries the full candidate set for diagnostic
// listing (spec §7 IdAmbiguous).
type AmbiguousError struct {
	Prefix     string
	Candidates []ID
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("hash: %q is ambiguous (%d candidates)", e.Prefix, len(e.Candidates))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguous }

// FindUnique resolves an abbreviated or full hex prefix to exactly one id
// (spec §4.1). Ground rules followed from sha1-name.c's disambiguate_state,
// adapted to this package's merged, cross-backend Source: rather than
// walking backends one candidate at a time, Source.LookupPrefix already
// hands back the (small, fan-out-bucket-bounded — see storage package)
// candidate set in one call, so the hint predicate is the only thing
// applied lazily, and only when hint != HintAny, preserving the "happy
// path is O(1) extra work" property for the common unhinted case.
//
// If the first pass finds nothing, the source's view is refreshed once and
// the search retried before reporting NotFound (spec §4.2 concurrency,
// §7 propagation policy).
func FindUnique(src Source, deref Dereferencer, prefix string, hint Hint) (ID, error) {
	id, err := findUniqueOnce(src, deref, prefix, hint)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return id, err
	}
	if rerr := src.Refresh(); rerr != nil {
		return ID{}, rerr
	}
	return findUniqueOnce(src, deref, prefix, hint)
}

func findUniqueOnce(src Source, deref Dereferencer, prefix string, hint Hint) (ID, error) {
	candidates, err := src.LookupPrefix(prefix)
	if err != nil {
		return ID{}, err
	}

	if hint == HintAny {
		return pickOne(prefix, candidates)
	}

	matched := candidates[:0:0]
	for _, c := range candidates {
		ok, err := matchesHint(deref, c, hint)
		if err != nil {
			return ID{}, err
		}
		if ok {
			matched = append(matched, c)
		}
	}
	return pickOne(prefix, matched)
}

func pickOne(prefix string, candidates []ID) (ID, error) {
	switch len(candidates) {
	case 0:
		return ID{}, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return candidates[0], nil
	default:
		return ID{}, &AmbiguousError{Prefix: prefix, Candidates: candidates}
	}
}

// matchesHint applies the hint predicate to one candidate, dereferencing a
// tag by exactly one layer for the committish/treeish hints.
func matchesHint(deref Dereferencer, id ID, hint Hint) (bool, error) {
	k, err := deref.Classify(id)
	if err != nil {
		return false, err
	}

	switch hint {
	case HintBlob:
		return k == KindBlob, nil
	case HintTree:
		return k == KindTree, nil
	case HintCommit:
		return k == KindCommit, nil
	case HintCommittish:
		if k == KindCommit {
			return true, nil
		}
		return peeledKindIs(deref, id, k, KindCommit)
	case HintTreeish:
		if k == KindTree || k == KindCommit {
			return true, nil
		}
		return peeledKindIs(deref, id, k, KindTree, KindCommit)
	default:
		return false, fmt.Errorf("hash: unknown hint %d", hint)
	}
}

func peeledKindIs(deref Dereferencer, id ID, k Kind, want ...Kind) (bool, error) {
	if k != KindTag {
		return false, nil
	}
	peeled, ok, err := deref.Peel(id)
	if err != nil || !ok {
		return false, err
	}
	pk, err := deref.Classify(peeled)
	if err != nil {
		return false, err
	}
	for _, w := range want {
		if pk == w {
			return true, nil
		}
	}
	return false, nil
}
