package tsdb

import "time"

// Transaction is a snapshot handle binding a series' page index and page
// map. Readonly transactions observe a frozen page-index snapshot for
// their full lifetime; writable transactions accumulate dirtied pages
// and, on commit, publish a new page index for the series. See
// spec.md §4.4 and §A.4.4.
type Transaction struct {
	db       *Database
	seriesID uint64

	valueSize uint64
	pageMap   *PageMap
	readonly  bool

	// entries is the transaction's working view of the series' page
	// index: for a readonly txn it is fixed at Begin time; for a
	// writable txn the cursor mutates it in place as splits occur.
	entries []PageIndexEntry

	// dirty is the set of page ids this transaction has modified or
	// allocated, flushed to disk on Commit.
	dirty map[PageID]bool

	writeLockHeld bool
	done          bool
}

// IsReadonly reports whether the transaction was opened readonly.
func (t *Transaction) IsReadonly() bool { return t.readonly }

// ValueSize returns the fixed value width, in bytes, of the series this
// transaction is bound to.
func (t *Transaction) ValueSize() uint64 { return t.valueSize }

// GetPageMap returns the page map backing this transaction's series.
func (t *Transaction) GetPageMap() *PageMap { return t.pageMap }

// GetPageIndex returns the transaction's current view of the series'
// page index. For a writable transaction this reflects splits the
// cursor has performed since Begin but not yet committed.
func (t *Transaction) GetPageIndex() *PageIndex {
	return NewPageIndex(t.entries)
}

// markDirty records that page id was touched by this transaction and
// must be flushed on commit.
func (t *Transaction) markDirty(id PageID) {
	if t.dirty == nil {
		t.dirty = make(map[PageID]bool)
	}
	t.dirty[id] = true
}

// isOwned reports whether id already names a page privately allocated or
// shadow-copied by this transaction, as opposed to a page shared with
// the series' currently published index (and thus with concurrent
// readers and any other transaction). Consulted by Cursor.ensureOwned
// to decide whether a mutation needs a copy-on-write first.
func (t *Transaction) isOwned(id PageID) bool {
	return t.dirty != nil && t.dirty[id]
}

// replaceEntry substitutes the entry at pos with one or more entries,
// keeping the working index sorted. Used by the cursor's split policy.
func (t *Transaction) replaceEntry(pos int, replacement ...PageIndexEntry) {
	out := make([]PageIndexEntry, 0, len(t.entries)+len(replacement)-1)
	out = append(out, t.entries[:pos]...)
	out = append(out, replacement...)
	out = append(out, t.entries[pos+1:]...)
	t.entries = out
}

// appendEntry adds a brand-new trailing page-index entry. CreateSeries
// builds a series' first entry directly, so nothing in this package
// calls appendEntry.
func (t *Transaction) appendEntry(e PageIndexEntry) {
	t.entries = append(t.entries, e)
}

// Commit publishes a writable transaction's mutations: it flushes dirty
// pages to fresh extents, builds and writes a new page index, updates
// the superblock, and swaps the series' current index under its write
// lock. See spec.md §4.6 and Database.commitTransaction.
func (t *Transaction) Commit() error {
	if t.readonly {
		return newErr(KindInvalidArgument, "commit on readonly transaction")
	}
	if t.done {
		return newErr(KindInvalidArgument, "transaction already finished")
	}
	t.done = true
	defer t.releaseWriteLock()

	start := time.Now()
	err := t.db.commitTransaction(t)
	if m := t.db.metrics; m != nil {
		m.CommitDuration.Observe(time.Since(start).Seconds())
	}
	return err
}

// Abort discards a writable transaction's uncommitted changes: the
// series' published index is left untouched (so the newer entries built
// from shadow pages never get flushed against the superblock), and every
// shadow page this transaction allocated or copy-on-wrote is explicitly
// deleted from the page map so its content does not linger. Readonly
// transactions have nothing to discard.
func (t *Transaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	if !t.readonly {
		for id := range t.dirty {
			t.pageMap.DeletePage(id)
		}
		t.releaseWriteLock()
	}
}

func (t *Transaction) releaseWriteLock() {
	if !t.writeLockHeld {
		return
	}
	t.writeLockHeld = false
	t.db.releaseSeriesWriteLock(t.seriesID)
}
