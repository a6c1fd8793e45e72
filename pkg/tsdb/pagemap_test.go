package tsdb

import (
	"encoding/binary"
	"testing"
)

// fakeLoader satisfies pageLoader for tests that need a cold page to
// fault in without a real Database/file behind it.
type fakeLoader struct {
	pages map[uint64]*PageBuffer // keyed by diskAddr
}

func (f *fakeLoader) loadPageExtent(diskAddr, diskSize uint64) (PageID, *PageBuffer, error) {
	buf, ok := f.pages[diskAddr]
	if !ok {
		return 0, nil, wrapErr(KindNotFound, "no such extent in fake loader", nil)
	}
	return 0, buf, nil
}

func TestPageMapAllocAndModify(t *testing.T) {
	pm := NewPageMap(&fakeLoader{})
	id := pm.AllocPage(8)

	if err := pm.ModifyPage(id, func(p *PageBuffer) bool {
		p.Append(10, u64Bytes(1))
		return true
	}); err != nil {
		t.Fatalf("modify: %v", err)
	}

	buf, err := pm.GetPage(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if buf.Size() != 1 || buf.GetTimestamp(0) != 10 {
		t.Fatalf("unexpected buffer contents: size=%d", buf.Size())
	}

	info, err := pm.GetPageInfo(id)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Version != 1 {
		t.Fatalf("expected version 1 after one modify, got %d", info.Version)
	}
	if !info.IsDirty {
		t.Fatal("expected dirty after modify")
	}
}

func TestPageMapModifyRollbackOnFalse(t *testing.T) {
	pm := NewPageMap(&fakeLoader{})
	id := pm.AllocPage(8)
	pm.ModifyPage(id, func(p *PageBuffer) bool {
		p.Append(1, u64Bytes(1))
		return true
	})

	err := pm.ModifyPage(id, func(p *PageBuffer) bool {
		p.Append(2, u64Bytes(2))
		return false // reject
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}

	buf, _ := pm.GetPage(id)
	if buf.Size() != 1 {
		t.Fatalf("expected rollback to size 1, got %d", buf.Size())
	}
}

func TestPageMapFlushClearsDirtyOnlyIfNoNewerVersion(t *testing.T) {
	pm := NewPageMap(&fakeLoader{})
	id := pm.AllocPage(8)
	pm.ModifyPage(id, func(p *PageBuffer) bool { p.Append(1, u64Bytes(1)); return true })

	// Simulate a concurrent second writer bumping the version again
	// before the flush for version 1 lands.
	pm.ModifyPage(id, func(p *PageBuffer) bool { p.Append(2, u64Bytes(2)); return true })

	if err := pm.FlushPage(id, 1, 4096, 64); err != nil {
		t.Fatalf("flush: %v", err)
	}
	info, _ := pm.GetPageInfo(id)
	if !info.IsDirty {
		t.Fatal("expected page to remain dirty: a newer version (2) was written after the flushed version (1)")
	}

	if err := pm.FlushPage(id, 2, 4096, 96); err != nil {
		t.Fatalf("flush: %v", err)
	}
	info, _ = pm.GetPageInfo(id)
	if info.IsDirty {
		t.Fatal("expected page to be clean once the latest version is flushed")
	}
}

func TestPageMapColdPageLoadsFromLoader(t *testing.T) {
	buf := NewPageBuffer(8)
	buf.Append(99, u64Bytes(1))

	loader := &fakeLoader{pages: map[uint64]*PageBuffer{1000: buf}}
	pm := NewPageMap(loader)
	pm.AddColdPage(PageID(5), 8, 1000, 32)

	got, err := pm.GetPage(PageID(5))
	if err != nil {
		t.Fatalf("get cold page: %v", err)
	}
	if got.Size() != 1 || got.GetTimestamp(0) != 99 {
		t.Fatalf("unexpected cold page contents")
	}
}

func TestPageMapGetPageReturnsOwnedCopy(t *testing.T) {
	pm := NewPageMap(&fakeLoader{})
	id := pm.AllocPage(8)
	pm.ModifyPage(id, func(p *PageBuffer) bool { p.Append(1, u64Bytes(1)); return true })

	buf1, _ := pm.GetPage(id)
	buf1.Update(0, u64Bytes(999)) // mutate the caller's copy only

	buf2, _ := pm.GetPage(id)
	if binary.LittleEndian.Uint64(buf2.GetValue(0)) == 999 {
		t.Fatal("GetPage must return an independent copy, not a shared reference")
	}
}

func TestPageMapDeletePageFreesEntry(t *testing.T) {
	pm := NewPageMap(&fakeLoader{})
	id := pm.AllocPage(8)

	if err := pm.DeletePage(id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := pm.GetPage(id); !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if _, err := pm.GetPageInfo(id); !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}
