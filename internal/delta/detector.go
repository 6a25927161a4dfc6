// Package delta computes which repository files changed since the last scan.
package delta

import (
	"sort"

	"github.com/ppiankov/traceguard/internal/model"
	"github.com/ppiankov/traceguard/internal/source"
)

// ChangeSet partitions a listing against prior fingerprints.
// Changed, Unchanged and Deleted are disjoint and sorted by path.
type ChangeSet struct {
	Changed   []source.TreeEntry
	Unchanged []source.TreeEntry
	Deleted   []string
}

// Empty reports whether nothing changed and nothing was deleted
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0 && len(c.Deleted) == 0
}

// Detect diffs the current listing against prior fingerprints.
// A file is changed when it has no prior identity or its identity differs;
// deleted paths are prior paths missing from the current listing.
func Detect(current []source.TreeEntry, prior []model.Fingerprint) ChangeSet {
	known := make(map[string]string, len(prior))
	for _, fp := range prior {
		known[fp.Path] = fp.ContentID
	}

	var cs ChangeSet
	seen := make(map[string]bool, len(current))
	for _, entry := range current {
		if seen[entry.Path] {
			continue
		}
		seen[entry.Path] = true

		id, ok := known[entry.Path]
		if ok && id == entry.ContentID {
			cs.Unchanged = append(cs.Unchanged, entry)
		} else {
			cs.Changed = append(cs.Changed, entry)
		}
	}

	for path := range known {
		if !seen[path] {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Slice(cs.Changed, func(i, j int) bool { return cs.Changed[i].Path < cs.Changed[j].Path })
	sort.Slice(cs.Unchanged, func(i, j int) bool { return cs.Unchanged[i].Path < cs.Unchanged[j].Path })
	sort.Strings(cs.Deleted)

	return cs
}
