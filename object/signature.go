// Package object is the parsed object graph: the typed in-memory view of
// blob/tree/commit/tag records, deduplicated by id and lazily populated from
// the store (spec §4.3).
package object

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature is an author/committer/tagger identity plus a timestamp, as
// carried by commit and tag headers (spec §3).
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Decode parses "Name <email> seconds tz" into s. This is strict: a missing
// or malformed timestamp is not silently zeroed, matching the spec's
// requirement that commit/tag header parsing be strict.
func (s *Signature) Decode(b []byte) error {
	open := bytes.LastIndexByte(b, '<')
	close := bytes.LastIndexByte(b, '>')
	if open < 0 || close < 0 || close < open {
		return errors.New("malformed signature: missing <email>")
	}

	s.Name = string(bytes.TrimSpace(b[:open]))
	s.Email = string(b[open+1 : close])

	rest := bytes.TrimSpace(b[close+1:])
	if len(rest) == 0 {
		return errors.New("malformed signature: missing timestamp")
	}

	parts := bytes.Fields(rest)
	sec, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp: %w", err)
	}

	loc := time.UTC
	if len(parts) > 1 {
		l, err := parseTZ(string(parts[1]))
		if err != nil {
			return fmt.Errorf("malformed signature timezone: %w", err)
		}
		loc = l
	}

	s.When = time.Unix(sec, 0).In(loc)
	return nil
}

func parseTZ(tz string) (*time.Location, error) {
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return nil, errors.New("malformed timezone")
	}
	hh, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return nil, err
	}
	mm, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return nil, err
	}
	offset := hh*3600 + mm*60
	if tz[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(tz, offset), nil
}

// Encode writes "Name <email> seconds tz".
func (s Signature) Encode(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "%s <%s> ", s.Name, s.Email); err != nil {
		return err
	}
	_, offset := s.When.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	_, err := fmt.Fprintf(w, "%d %s%02d%02d", s.When.Unix(), sign, offset/3600, (offset%3600)/60)
	return err
}

func (s Signature) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s <%s>", s.Name, s.Email))
}
