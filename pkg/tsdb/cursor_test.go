package tsdb

import (
	"path/filepath"
	"testing"
)

// TestCursorSplitOnSoftCap verifies that appending past the 64 KiB soft
// cap splits the page and the index gains a second entry, per spec.md
// §4.5/§9.
func TestCursorSplitOnSoftCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.zdb")
	db, err := Open(path, ModeCreateIfMissing)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.CreateSeries(1, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}

	txn, err := db.Begin(1, false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	cur := NewCursor(txn)

	// Each sample encodes to 16 bytes (8 ts + 8 value); softCapBytes is
	// 64KiB, so a single page holds roughly 4096 samples before a split
	// is triggered. Push well past that.
	const n = 6000
	for i := uint64(0); i < n; i++ {
		if err := cur.Append(uint64(i), valBytes(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	idx := txn.GetPageIndex()
	if idx.Size() < 2 {
		t.Fatalf("expected at least one split, got %d page(s)", idx.Size())
	}
	for i := 0; i < idx.Size()-1; i++ {
		if idx.Entries()[i].FirstTimestamp >= idx.Entries()[i+1].FirstTimestamp {
			t.Fatalf("page index entries not strictly increasing at %d", i)
		}
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	scanAndVerify(t, db, n, 1)
}

// TestCursorAbortDiscardsChanges verifies that an aborted writable
// transaction leaves the series' published state untouched.
func TestCursorAbortDiscardsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abort.zdb")
	db, err := Open(path, ModeCreateIfMissing)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.CreateSeries(1, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}

	seed, _ := db.Begin(1, false)
	sc := NewCursor(seed)
	for i := uint64(0); i < 10; i++ {
		if err := sc.Append(i, valBytes(i)); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	wtxn, err := db.Begin(1, false)
	if err != nil {
		t.Fatalf("begin writer: %v", err)
	}
	wc := NewCursor(wtxn)
	if err := wc.Append(100, valBytes(999)); err != nil {
		t.Fatalf("append: %v", err)
	}
	shadowID := wc.pageID
	if !wtxn.isOwned(shadowID) {
		t.Fatal("expected the appended-to page to be a private shadow of the writer's transaction")
	}
	wtxn.Abort()

	// The shadow page the aborted writer copy-on-wrote must be gone from
	// the page map; only the originally committed page survives.
	if _, err := wtxn.GetPageMap().GetPage(shadowID); !IsKind(err, KindNotFound) {
		t.Fatalf("expected the aborted writer's shadow page to be deleted, got err=%v", err)
	}

	rtxn, err := db.Begin(1, true)
	if err != nil {
		t.Fatalf("begin readonly: %v", err)
	}
	defer rtxn.Abort()
	scanAndVerify(t, db, 10, 1)
}

// TestCursorRebindAndGetAndAdvance exercises the SPEC_FULL.md §D
// conveniences: Rebind hands a cursor to a fresh transaction, and
// GetAndAdvance combines Get+Next.
func TestCursorRebindAndGetAndAdvance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rebind.zdb")
	db, err := Open(path, ModeCreateIfMissing)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.CreateSeries(1, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}
	if err := db.CreateSeries(2, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}

	for _, seriesID := range []uint64{1, 2} {
		txn, _ := db.Begin(seriesID, false)
		cur := NewCursor(txn)
		for i := uint64(0); i < 5; i++ {
			if err := cur.Append(i, valBytes(i*10+seriesID)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		if err := txn.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	txn1, err := db.Begin(1, true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	cur := NewCursor(txn1)
	cur.SeekToFirst()

	ts, v, ok := cur.GetAndAdvance()
	if !ok || ts != 0 || valUint(v) != 1 {
		t.Fatalf("unexpected first sample: ts=%d v=%d ok=%v", ts, valUint(v), ok)
	}
	ts, v, ok = cur.GetAndAdvance()
	if !ok || ts != 1 || valUint(v) != 11 {
		t.Fatalf("unexpected second sample: ts=%d v=%d ok=%v", ts, valUint(v), ok)
	}
	txn1.Abort()

	txn2, err := db.Begin(2, true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer txn2.Abort()
	cur.Rebind(txn2)
	if !cur.SeekToFirst() {
		t.Fatal("expected rebound cursor to be valid after seek")
	}
	ts, v, ok = cur.Get()
	if !ok || ts != 0 || valUint(v) != 2 {
		t.Fatalf("unexpected sample on rebound cursor: ts=%d v=%d ok=%v", ts, valUint(v), ok)
	}
}

// TestCursorSeekOnEmptySeries verifies SeekToLast/SeekToFirst report
// invalid on a series whose only page has no samples yet.
func TestCursorSeekOnEmptySeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zdb")
	db, err := Open(path, ModeCreateIfMissing)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.CreateSeries(1, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}

	txn, err := db.Begin(1, true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer txn.Abort()
	cur := NewCursor(txn)

	if cur.SeekToFirst() {
		t.Fatal("expected SeekToFirst to report invalid on an empty series")
	}
	if cur.SeekToLast() {
		t.Fatal("expected SeekToLast to report invalid on an empty series")
	}
	if cur.Valid() {
		t.Fatal("cursor should not be valid")
	}
}

// TestCursorUpdateRequiresWritableAndValid exercises Update's
// InvalidArgument guards: a readonly transaction and an unpositioned
// cursor (spec.md §7).
func TestCursorUpdateRequiresWritableAndValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.zdb")
	db, err := Open(path, ModeCreateIfMissing)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.CreateSeries(1, 8); err != nil {
		t.Fatalf("create series: %v", err)
	}

	seed, _ := db.Begin(1, false)
	sc := NewCursor(seed)
	if err := sc.Append(1, valBytes(1)); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rtxn, err := db.Begin(1, true)
	if err != nil {
		t.Fatalf("begin readonly: %v", err)
	}
	defer rtxn.Abort()
	rc := NewCursor(rtxn)
	rc.SeekToFirst()

	if err := rc.Update(valBytes(2)); !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument updating a readonly cursor, got %v", err)
	}

	wtxn, err := db.Begin(1, false)
	if err != nil {
		t.Fatalf("begin writer: %v", err)
	}
	defer wtxn.Abort()
	wc := NewCursor(wtxn)
	if err := wc.Update(valBytes(2)); !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument updating an unpositioned cursor, got %v", err)
	}
}
