package hash

// MinAbbrevLen is the minimum number of hex digits accepted as an
// abbreviation (spec §3: "a small constant, e.g. 4").
const MinAbbrevLen = 4

// Abbrev returns the first n hex characters of id's textual form. If n is
// larger than the full hex width, the full form is returned.
func Abbrev(id ID, n int) string {
	s := id.String()
	if n >= len(s) {
		return s
	}
	if n < 0 {
		n = 0
	}
	return s[:n]
}
