package tsdb

import "sort"

// PageIndexEntry names the leading timestamp and page id of one page
// within a series. All samples in Page PageID are known to lie in
// [FirstTimestamp, nextEntry.FirstTimestamp) (or +inf for the last entry).
type PageIndexEntry struct {
	FirstTimestamp uint64
	PageID         PageID
}

// PageIndex is the immutable, ordered directory of pages for one series.
// A new value is produced wholesale by the commit path (see database.go);
// it is never mutated in place once published.
type PageIndex struct {
	entries []PageIndexEntry
}

// NewPageIndex builds a PageIndex from entries already in ascending
// FirstTimestamp order. The caller (commit path) owns that ordering.
func NewPageIndex(entries []PageIndexEntry) *PageIndex {
	return &PageIndex{entries: entries}
}

// Size returns the number of pages in the index.
func (idx *PageIndex) Size() int { return len(idx.entries) }

// Entries returns the ordered entry list. Callers must not mutate it.
func (idx *PageIndex) Entries() []PageIndexEntry { return idx.entries }

// Find returns the largest i such that entries[i].FirstTimestamp <= ts,
// or 0 if no such entry exists (including the empty-index case, where
// the caller must separately check Size() == 0). Binary search, per
// spec.md §4.2 and the fix mandated in §9 for the original source's
// unindexed linear "page 0" shortcut.
func (idx *PageIndex) Find(ts uint64) int {
	if len(idx.entries) == 0 {
		return 0
	}
	// sort.Search finds the first index for which the predicate holds;
	// we want the last index whose FirstTimestamp <= ts, so search for
	// the first index whose FirstTimestamp > ts and step back one.
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].FirstTimestamp > ts
	})
	if i == 0 {
		return 0
	}
	return i - 1
}
