package hash

import "sort"

// Sort orders a slice of ids in increasing byte-lexicographic order in place.
func Sort(a []ID) { sort.Sort(IDs(a)) }

// IDs attaches sort.Interface to []ID.
type IDs []ID

func (p IDs) Len() int           { return len(p) }
func (p IDs) Less(i, j int) bool { return p[i].Compare(p[j]) < 0 }
func (p IDs) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
