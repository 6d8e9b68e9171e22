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
	ErrMissingTreeHeader      = errors.New("missing 'tree' header")
	ErrMissingAuthorHeader    = errors.New("missing 'author' header")
	ErrMissingCommitterHeader = errors.New("missing 'committer' header")
	ErrHeaderOutOfOrder       = errors.New("commit header out of required order")
)

// Commit is a record pointing at one tree, zero or more parents, and
// carrying author/committer identities and a message (spec §3).
type Commit struct {
	base
	TreeHash     hash.ID
	ParentHashes []hash.ID
	Author       Signature
	Committer    Signature
	Encoding     string
	raw          []byte
}

// Decode parses a commit's header block strictly: exactly one "tree",
// parents in order, then author, then committer, in that relative order
// (spec §3: "strict on required headers' presence and order-of-kind").
func (c *Commit) Decode(o plumbing.EncodedObject) error {
	if o.Type() != plumbing.CommitObject {
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

	algo := o.Hash().Algo()
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<24)

	var sawTree, sawAuthor, sawCommitter bool
	var parents []hash.ID
	var msgStart int
	var author, committer Signature
	var encoding string
	var treeHash hash.ID

	offset := 0
	for sc.Scan() {
		line := sc.Text()
		offset += len(line) + 1
		if line == "" {
			msgStart = offset
			break
		}

		sp := bytes.IndexByte([]byte(line), ' ')
		if sp < 0 {
			return fmt.Errorf("malformed commit header line %q", line)
		}
		key, val := line[:sp], line[sp+1:]

		switch key {
		case "tree":
			if sawTree || sawAuthor || sawCommitter {
				return ErrHeaderOutOfOrder
			}
			id, ok := hash.FromHex(val)
			if !ok {
				return fmt.Errorf("malformed tree header: %q", val)
			}
			treeHash = id
			sawTree = true
		case "parent":
			if !sawTree || sawAuthor || sawCommitter {
				return ErrHeaderOutOfOrder
			}
			id, ok := hash.FromHex(val)
			if !ok {
				return fmt.Errorf("malformed parent header: %q", val)
			}
			parents = append(parents, id)
		case "author":
			if !sawTree || sawCommitter {
				return ErrHeaderOutOfOrder
			}
			if err := author.Decode([]byte(val)); err != nil {
				return err
			}
			sawAuthor = true
		case "committer":
			if !sawAuthor {
				return ErrHeaderOutOfOrder
			}
			if err := committer.Decode([]byte(val)); err != nil {
				return err
			}
			sawCommitter = true
		case "encoding":
			encoding = val
		default:
			// Further headers are ignored by the core (spec §3).
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if !sawTree {
		return ErrMissingTreeHeader
	}
	if !sawAuthor {
		return ErrMissingAuthorHeader
	}
	if !sawCommitter {
		return ErrMissingCommitterHeader
	}
	_ = algo
	_ = msgStart

	c.kind = plumbing.CommitObject
	c.id = o.Hash()
	c.TreeHash = treeHash
	c.ParentHashes = parents
	c.Author = author
	c.Committer = committer
	c.Encoding = encoding
	c.raw = raw
	c.parsed = true
	return nil
}

// Message returns the commit's message body (everything after the blank
// line separating headers from message, spec §3).
func (c *Commit) Message() string {
	if i := bytes.Index(c.raw, []byte("\n\n")); i >= 0 {
		return string(c.raw[i+2:])
	}
	return ""
}

// NumParents reports how many parents this commit has.
func (c *Commit) NumParents() int { return len(c.ParentHashes) }

// Encode serializes c into its canonical header+message form and computes
// its id under algo.
func (c *Commit) Encode(algo hash.Algo, message string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeHash)
	for _, p := range c.ParentHashes {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	buf.WriteString("author ")
	w := bufio.NewWriter(&buf)
	if err := c.Author.Encode(w); err != nil {
		return err
	}
	w.Flush()
	buf.WriteByte('\n')

	buf.WriteString("committer ")
	w = bufio.NewWriter(&buf)
	if err := c.Committer.Encode(w); err != nil {
		return err
	}
	w.Flush()
	buf.WriteByte('\n')

	if c.Encoding != "" {
		fmt.Fprintf(&buf, "encoding %s\n", c.Encoding)
	}
	buf.WriteByte('\n')
	buf.WriteString(message)

	raw := buf.Bytes()
	h := hash.New(algo)
	fmt.Fprintf(h, "%s %d\x00", plumbing.CommitObject, len(raw))
	h.Write(raw)
	sum := h.Sum(nil)
	id, _ := hash.FromBytes(algo, sum)

	c.kind = plumbing.CommitObject
	c.id = id
	c.raw = raw
	c.parsed = true
	return nil
}
