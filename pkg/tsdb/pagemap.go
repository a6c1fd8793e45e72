package tsdb

import (
	"sync"
	"sync/atomic"
)

// PageInfo is a snapshot of a page map entry's bookkeeping fields.
type PageInfo struct {
	Version   uint64
	IsDirty   bool
	DiskAddr  uint64
	DiskSize  uint64
	ValueSize uint64
}

// pageMapEntry is one page's live bookkeeping record. Field set grounded
// on the commented-out PageMapEntry sketch in
// original_source/core/page_map.h.
type pageMapEntry struct {
	lock sync.Mutex

	buffer    *PageBuffer // nil when not resident
	version   uint64
	valueSize uint64
	diskAddr  uint64
	diskSize  uint64
	refcount  int64
	dirty     bool
	deleted   bool
}

// pageLoader reads a page extent's payload from the backing file given
// its on-disk address and size; satisfied by Database.
type pageLoader interface {
	loadPageExtent(diskAddr, diskSize uint64) (PageID, *PageBuffer, error)
}

// PageMap is the process-wide directory of live page entries: page id
// to buffer, disk location, version, and refcount. See spec.md §4.3.
type PageMap struct {
	mu      sync.Mutex
	entries map[PageID]*pageMapEntry
	nextID  uint64
	loader  pageLoader
	metrics *Metrics
}

// SetMetrics attaches a Metrics instance whose cache-hit/miss counters
// are incremented on GetPage. A nil metrics value (the default) simply
// skips instrumentation.
func (m *PageMap) SetMetrics(metrics *Metrics) { m.metrics = metrics }

// NewPageMap constructs an empty page map. loader is used to fault in
// cold pages on first GetPage.
func NewPageMap(loader pageLoader) *PageMap {
	return &PageMap{
		entries: make(map[PageID]*pageMapEntry),
		loader:  loader,
	}
}

// AllocPage creates an empty, resident, dirty entry with refcount 1 and
// returns its newly assigned id. PageID allocation is serialized under
// the map mutex, per spec.md §4.3.
func (m *PageMap) AllocPage(valueSize uint64) PageID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := PageID(m.nextID)
	m.entries[id] = &pageMapEntry{
		buffer:    NewPageBuffer(valueSize),
		valueSize: valueSize,
		refcount:  1,
		dirty:     true,
	}
	return id
}

// AddColdPage registers a non-resident entry reconstructed from disk at
// database open, with version 0 and dirty=false.
func (m *PageMap) AddColdPage(id PageID, valueSize, diskAddr, diskSize uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = &pageMapEntry{
		valueSize: valueSize,
		diskAddr:  diskAddr,
		diskSize:  diskSize,
	}
	if uint64(id) >= m.nextID {
		m.nextID = uint64(id)
	}
}

func (m *PageMap) lookup(id PageID) (*pageMapEntry, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok || e.deleted {
		return nil, wrapErr(KindNotFound, "page not found", nil)
	}
	return e, nil
}

// GetPageInfo returns a snapshot of the entry's bookkeeping fields.
func (m *PageMap) GetPageInfo(id PageID) (PageInfo, error) {
	e, err := m.lookup(id)
	if err != nil {
		return PageInfo{}, err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	return PageInfo{
		Version:   e.version,
		IsDirty:   e.dirty,
		DiskAddr:  e.diskAddr,
		DiskSize:  e.diskSize,
		ValueSize: e.valueSize,
	}, nil
}

// ensureResident loads the entry's buffer from disk if it is cold. The
// caller must hold e.lock.
func (m *PageMap) ensureResident(e *pageMapEntry) error {
	if e.buffer != nil {
		return nil
	}
	if e.diskAddr == 0 && e.diskSize == 0 {
		e.buffer = NewPageBuffer(e.valueSize)
		return nil
	}
	_, buf, err := m.loader.loadPageExtent(e.diskAddr, e.diskSize)
	if err != nil {
		return err
	}
	e.buffer = buf
	return nil
}

// GetPage returns a private decoded copy of the current buffer for id,
// loading it from disk first if it is not resident. The returned buffer
// may be used freely without holding any page lock (spec.md §4.3).
func (m *PageMap) GetPage(id PageID) (*PageBuffer, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	wasResident := e.buffer != nil
	if err := m.ensureResident(e); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		if wasResident {
			m.metrics.CacheHits.Inc()
		} else {
			m.metrics.CacheMisses.Inc()
		}
	}
	return e.buffer.Clone(), nil
}

// ModifyPage acquires the entry's exclusive lock, ensures residency,
// invokes fn against the live buffer, and on fn returning true marks the
// entry dirty and bumps its version. If fn returns false the mutation is
// discarded (a snapshot is restored).
func (m *PageMap) ModifyPage(id PageID, fn func(*PageBuffer) bool) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := m.ensureResident(e); err != nil {
		return err
	}

	snapshot := e.buffer.Clone()
	if !fn(e.buffer) {
		e.buffer = snapshot
		return nil
	}

	e.dirty = true
	e.version++
	return nil
}

// FlushPage records that version has been durably written at
// (diskAddr, diskSize). dirty is cleared only if no newer version has
// been written since (spec.md §4.3).
func (m *PageMap) FlushPage(id PageID, version, diskAddr, diskSize uint64) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	e.diskAddr = diskAddr
	e.diskSize = diskSize
	if e.version == version {
		e.dirty = false
	}

	if atomic.LoadInt64(&e.refcount) == 0 {
		e.buffer = nil
	}
	return nil
}

// DeletePage marks id for removal and releases the map's own implicit
// hold on it (the refcount of 1 that AllocPage establishes on an entry's
// behalf; AddColdPage entries start at 0); actual freeing happens once
// refcount reaches zero or below. This package never hands out a pin
// (spec.md §4.3's pin API is permitted but not required of cursors), so
// that implicit hold is the only reference any entry ever carries —
// DeletePage's own decrement frees the entry immediately. Called
// by Transaction.Abort to discard the shadow pages a writable
// transaction copy-on-wrote or allocated before it was abandoned.
func (m *PageMap) DeletePage(id PageID) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.lock.Lock()
	e.deleted = true
	rc := atomic.AddInt64(&e.refcount, -1)
	e.lock.Unlock()

	if rc <= 0 {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}
	return nil
}
