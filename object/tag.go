package object

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/nthall/gitcore/hash"
	"github.com/nthall/gitcore/plumbing"
)

var (
	ErrMissingObjectHeader = errors.New("missing 'object' header")
	ErrMissingTypeHeader   = errors.New("missing 'type' header")
	ErrMissingTagHeader    = errors.New("missing 'tag' header")
)

// Tag is a named annotation pointing at any other record kind (spec §3).
type Tag struct {
	base
	Target     hash.ID
	TargetType plumbing.ObjectType
	Name       string
	Tagger     Signature
	raw        []byte
}

// Decode parses a tag's header block: object, type, tag required in that
// order, tagger optional, then a blank line and the message.
func (t *Tag) Decode(o plumbing.EncodedObject) error {
	if o.Type() != plumbing.TagObject {
		return ErrUnsupportedObject
	}

	r, err := o.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<24)

	var sawObject, sawType, sawTag bool
	var target hash.ID
	var targetType plumbing.ObjectType
	var name string
	var tagger Signature
	var hasTagger bool

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		sp := bytes.IndexByte([]byte(line), ' ')
		if sp < 0 {
			return fmt.Errorf("malformed tag header line %q", line)
		}
		key, val := line[:sp], line[sp+1:]

		switch key {
		case "object":
			if sawType || sawTag {
				return ErrHeaderOutOfOrder
			}
			id, ok := hash.FromHex(val)
			if !ok {
				return fmt.Errorf("malformed object header: %q", val)
			}
			target = id
			sawObject = true
		case "type":
			if !sawObject || sawTag {
				return ErrHeaderOutOfOrder
			}
			tt, err := plumbing.ParseObjectType(val)
			if err != nil {
				return fmt.Errorf("malformed type header: %q", val)
			}
			targetType = tt
			sawType = true
		case "tag":
			if !sawType {
				return ErrHeaderOutOfOrder
			}
			name = val
			sawTag = true
		case "tagger":
			if err := tagger.Decode([]byte(val)); err != nil {
				return err
			}
			hasTagger = true
		default:
			// further headers ignored by the core
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if !sawObject {
		return ErrMissingObjectHeader
	}
	if !sawType {
		return ErrMissingTypeHeader
	}
	if !sawTag {
		return ErrMissingTagHeader
	}
	_ = hasTagger

	t.kind = plumbing.TagObject
	t.id = o.Hash()
	t.Target = target
	t.TargetType = targetType
	t.Name = name
	t.Tagger = tagger
	t.raw = raw
	t.parsed = true
	return nil
}

// Message returns the tag's message body.
func (t *Tag) Message() string {
	if i := bytes.Index(t.raw, []byte("\n\n")); i >= 0 {
		return string(t.raw[i+2:])
	}
	return ""
}
