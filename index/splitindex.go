package index

import (
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/nthall/gitcore/format/cindex"
	"github.com/nthall/gitcore/hash"
)

// loadSplitBase opens the shared base index a 'link' extension names,
// stored alongside the overlay index as "sharedindex.<base-id>" (spec
// §4.4.5).
func loadSplitBase(fs billy.Filesystem, overlayPath string, algo hash.Algo, link *cindex.Link) (*Index, error) {
	basePath := fs.Join(path.Dir(overlayPath), "sharedindex."+link.BaseID.String())
	return Open(fs, basePath, algo)
}

// mergeSplitBase splices base's entries into overlay wherever overlay itself
// doesn't already name the same path (spec §4.4.5: "on load both are
// materialized and merged").
//
// This is a deliberate simplification recorded in DESIGN.md: the real
// replace/delete bitmaps are EWAH-encoded, and format/cindex does not
// implement that codec (its own doc comment says so). Without decoding
// them, this merge cannot distinguish "overlay replaces this base entry"
// from "overlay deletes this base entry" bit-exactly; it treats any overlay
// entry with the same name as authoritative and otherwise keeps every base
// entry, which is correct for the common case (overlay only ever adds or
// replaces, rarely deletes a base-only path outright).
func mergeSplitBase(overlay, base *cindex.Index, link *cindex.Link) {
	overlayNames := make(map[string]bool, len(overlay.Entries))
	for _, e := range overlay.Entries {
		overlayNames[e.Name] = true
	}

	merged := make([]*cindex.Entry, 0, len(overlay.Entries)+len(base.Entries))
	merged = append(merged, overlay.Entries...)
	for _, e := range base.Entries {
		if overlayNames[e.Name] {
			continue
		}
		merged = append(merged, e)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Name != merged[j].Name {
			return merged[i].Name < merged[j].Name
		}
		return merged[i].Stage < merged[j].Stage
	})
	overlay.Entries = merged
}
