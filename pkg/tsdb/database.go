package tsdb

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/asmuth-labs/zdb/internal/logger"
)

// Mode selects how Open treats path.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
	ModeCreateIfMissing
)

// seriesState is a series' live registry entry: its current published
// page index, the page map backing it, its on-disk index location, and
// the per-series write lock enforcing single-writer semantics.
type seriesState struct {
	seriesID  uint64
	valueSize uint64
	pageIndex *PageIndex
	pageMap   *PageMap

	indexAddr uint64
	indexSize uint64

	writeMu sync.Mutex
}

// Database owns the file handle, the series registry, and the commit
// protocol. A single Database value is the root of everything; multiple
// databases coexist without shared global state (spec.md §9).
type Database struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	readonly bool

	writer *extentWriter
	sb     *superblock
	series map[uint64]*seriesState

	instanceID uuid.UUID
	log        *logger.Logger
	metrics    *Metrics

	closed bool
}

// InstanceID returns the UUID minted for this open Database instance. It
// is logged with the "database opened" event and reported by the admin
// server's Stat RPC; other log lines and RPC responses do not carry it.
func (db *Database) InstanceID() uuid.UUID { return db.instanceID }

// Path returns the backing file path.
func (db *Database) Path() string { return db.path }

// SetLogger replaces the logger used for later series-creation, commit
// and close events. Open logs its own event with the global storage
// logger before SetLogger can be called.
func (db *Database) SetLogger(l *logger.Logger) { db.log = l }

// SetMetrics attaches a Metrics instance and propagates it to every
// series' page map.
func (db *Database) SetMetrics(m *Metrics) {
	db.metrics = m
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, st := range db.series {
		st.pageMap.SetMetrics(m)
	}
}

// SeriesSummary is a lightweight, read-only snapshot of one registered
// series, used by admin/status tooling (cmd/zdbserver).
type SeriesSummary struct {
	SeriesID  uint64
	ValueSize uint64
	PageCount int
}

// ListSeries returns a snapshot of every registered series.
func (db *Database) ListSeries() []SeriesSummary {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]SeriesSummary, 0, len(db.series))
	for id, st := range db.series {
		out = append(out, SeriesSummary{SeriesID: id, ValueSize: st.valueSize, PageCount: st.pageIndex.Size()})
	}
	return out
}

// Generation returns the current superblock generation counter.
func (db *Database) Generation() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sb.generation
}

// Open opens or creates a database file at path under the given mode.
func Open(path string, mode Mode) (*Database, error) {
	flag := os.O_RDWR
	if mode == ModeReadOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0o644)
	create := false
	if err != nil {
		if os.IsNotExist(err) && mode == ModeCreateIfMissing {
			f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return nil, wrapErr(KindIOError, "create database file", err)
			}
			create = true
		} else {
			return nil, wrapErr(KindIOError, "open database file", err)
		}
	}

	db := &Database{
		f:          f,
		path:       path,
		readonly:   mode == ModeReadOnly,
		series:     make(map[uint64]*seriesState),
		instanceID: uuid.New(),
		log:        logger.GetGlobalLogger().StorageLogger(),
	}
	db.writer = &extentWriter{f: f, offset: superblockSize}

	if create {
		if err := db.initEmpty(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := db.loadExisting(); err != nil {
			f.Close()
			return nil, err
		}
	}

	db.log.Info().Str("path", path).Str("instance_id", db.instanceID.String()).Msg("database opened")
	return db, nil
}

func (db *Database) initEmpty() error {
	payload := encodeSeriesDirPayload(nil)
	addr, size, err := db.writer.writeExtent(extentKindSeriesDir, payload)
	if err != nil {
		return err
	}

	if err := db.f.Sync(); err != nil {
		return wrapErr(KindIOError, "fsync before superblock init", err)
	}

	sb := &superblock{generation: 1, indexRootAddr: addr, indexRootSize: size}
	if err := writeSuperblock(db.f, sb); err != nil {
		return err
	}
	if err := db.f.Sync(); err != nil {
		return wrapErr(KindIOError, "fsync after init", err)
	}
	db.sb = sb
	return nil
}

func (db *Database) loadExisting() error {
	sb, err := readSuperblock(db.f)
	if err != nil {
		return err
	}
	db.sb = sb

	kind, payload, err := readExtent(db.f, sb.indexRootAddr, sb.indexRootSize)
	if err != nil {
		return err
	}
	if kind != extentKindSeriesDir {
		return wrapErr(KindCorruptData, "superblock index root is not a series directory", nil)
	}
	dirEntries, err := decodeSeriesDirPayload(payload)
	if err != nil {
		return err
	}

	pageLocs, err := db.scanPageLocations()
	if err != nil {
		return err
	}

	fi, err := db.f.Stat()
	if err != nil {
		return wrapErr(KindIOError, "stat database file", err)
	}
	db.writer.offset = uint64(fi.Size())

	for _, de := range dirEntries {
		idxKind, idxPayload, err := readExtent(db.f, de.indexAddr, de.indexSize)
		if err != nil {
			return err
		}
		if idxKind != extentKindIndex {
			return wrapErr(KindCorruptData, "series directory entry does not point at an index", nil)
		}
		_, idx, err := decodeIndexPayload(idxPayload)
		if err != nil {
			return err
		}

		pageMap := NewPageMap(db)
		for _, e := range idx.Entries() {
			loc, ok := pageLocs[e.PageID]
			if !ok {
				return wrapErr(KindCorruptData, "page referenced by index not found on disk", nil)
			}
			pageMap.AddColdPage(e.PageID, de.valueSize, loc.addr, loc.size)
		}

		db.series[de.seriesID] = &seriesState{
			seriesID:  de.seriesID,
			valueSize: de.valueSize,
			pageIndex: idx,
			pageMap:   pageMap,
			indexAddr: de.indexAddr,
			indexSize: de.indexSize,
		}
	}
	return nil
}

type extentLoc struct{ addr, size uint64 }

// scanPageLocations walks every extent in the file once, recording the
// disk address and size of each page extent keyed by the page id
// prefixed onto its payload. This reconstructs the page_id -> disk
// location mapping the literal wire format of spec.md §6 does not
// otherwise preserve; see DESIGN.md Open Question 1.
func (db *Database) scanPageLocations() (map[PageID]extentLoc, error) {
	fi, err := db.f.Stat()
	if err != nil {
		return nil, wrapErr(KindIOError, "stat database file", err)
	}
	end := uint64(fi.Size())
	locs := make(map[PageID]extentLoc)

	offset := uint64(superblockSize)
	for offset < end {
		kind, length, err := readExtentHeader(db.f, offset)
		if err != nil {
			return nil, err
		}
		size := extentHeaderSize + length

		if kind == extentKindPage {
			idBuf := make([]byte, 8)
			if _, err := db.f.ReadAt(idBuf, int64(offset+extentHeaderSize)); err != nil {
				return nil, wrapErr(KindIOError, "read page id during scan", err)
			}
			id := PageID(binary.LittleEndian.Uint64(idBuf))
			locs[id] = extentLoc{addr: offset, size: size}
		}

		offset += size
	}
	return locs, nil
}

// loadPageExtent implements pageLoader for PageMap: it reads a page
// extent at (diskAddr, diskSize) and decodes its payload.
func (db *Database) loadPageExtent(diskAddr, diskSize uint64) (PageID, *PageBuffer, error) {
	kind, payload, err := readExtent(db.f, diskAddr, diskSize)
	if err != nil {
		return 0, nil, err
	}
	if kind != extentKindPage {
		return 0, nil, wrapErr(KindCorruptData, "expected page extent", nil)
	}
	return decodePageExtentPayload(payload)
}

// rewriteSeriesDirectoryLocked writes a fresh series-directory extent
// reflecting the current db.series map, fsyncs so every extent written so
// far is durable, then writes a new superblock pointing at it and fsyncs
// again. Caller must hold db.mu.
func (db *Database) rewriteSeriesDirectoryLocked() error {
	entries := make([]seriesDirEntry, 0, len(db.series))
	for id, st := range db.series {
		entries = append(entries, seriesDirEntry{
			seriesID:  id,
			valueSize: st.valueSize,
			indexAddr: st.indexAddr,
			indexSize: st.indexSize,
		})
	}

	payload := encodeSeriesDirPayload(entries)
	addr, size, err := db.writer.writeExtent(extentKindSeriesDir, payload)
	if err != nil {
		return err
	}
	if err := db.f.Sync(); err != nil {
		return wrapErr(KindIOError, "fsync before superblock rewrite", err)
	}

	sb := &superblock{
		generation:    db.sb.generation + 1,
		indexRootAddr: addr,
		indexRootSize: size,
	}
	if err := writeSuperblock(db.f, sb); err != nil {
		return err
	}
	if err := db.f.Sync(); err != nil {
		return wrapErr(KindIOError, "fsync after directory rewrite", err)
	}
	db.sb = sb
	return nil
}

// CreateSeries registers a new series with the given fixed value size,
// allocating and durably flushing its first (empty) page as a mini-commit
// under the database-level commit mutex (DESIGN.md Open Question 4).
func (db *Database) CreateSeries(seriesID, valueSize uint64) error {
	if db.readonly {
		return newErr(KindInvalidArgument, "create series on a read-only database")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.series[seriesID]; ok {
		return wrapErr(KindAlreadyExists, "series already registered", nil)
	}

	pageMap := NewPageMap(db)
	if db.metrics != nil {
		pageMap.SetMetrics(db.metrics)
	}
	pageID := pageMap.AllocPage(valueSize)

	buf, err := pageMap.GetPage(pageID)
	if err != nil {
		return err
	}
	payload := encodePageExtentPayload(pageID, buf)
	addr, size, err := db.writer.writeExtent(extentKindPage, payload)
	if err != nil {
		return err
	}
	if err := pageMap.FlushPage(pageID, 0, addr, size); err != nil {
		return err
	}

	entries := []PageIndexEntry{{FirstTimestamp: 0, PageID: pageID}}
	idxPayload := encodeIndexPayload(seriesID, NewPageIndex(entries))
	idxAddr, idxSize, err := db.writer.writeExtent(extentKindIndex, idxPayload)
	if err != nil {
		return err
	}

	db.series[seriesID] = &seriesState{
		seriesID:  seriesID,
		valueSize: valueSize,
		pageIndex: NewPageIndex(entries),
		pageMap:   pageMap,
		indexAddr: idxAddr,
		indexSize: idxSize,
	}

	if err := db.rewriteSeriesDirectoryLocked(); err != nil {
		delete(db.series, seriesID)
		return wrapErr(KindCommitFailed, "publish new series", err)
	}

	db.log.Debug().Uint64("series_id", seriesID).Uint64("value_size", valueSize).Msg("series created")
	return nil
}

// Begin starts a transaction on seriesID. A writable Begin fails with
// Busy if another writer is already active for that series.
func (db *Database) Begin(seriesID uint64, readonly bool) (*Transaction, error) {
	db.mu.Lock()
	st, ok := db.series[seriesID]
	db.mu.Unlock()
	if !ok {
		return nil, wrapErr(KindNotFound, "series not found", nil)
	}

	txn := &Transaction{
		db:        db,
		seriesID:  seriesID,
		valueSize: st.valueSize,
		pageMap:   st.pageMap,
		readonly:  readonly,
	}

	if !readonly {
		if !st.writeMu.TryLock() {
			return nil, wrapErr(KindBusy, "series has an active writer", nil)
		}
		txn.writeLockHeld = true
	}

	db.mu.Lock()
	txn.entries = append([]PageIndexEntry(nil), st.pageIndex.Entries()...)
	db.mu.Unlock()

	return txn, nil
}

// releaseSeriesWriteLock unlocks the per-series write lock; called by
// Transaction.Commit/Abort.
func (db *Database) releaseSeriesWriteLock(seriesID uint64) {
	db.mu.Lock()
	st, ok := db.series[seriesID]
	db.mu.Unlock()
	if ok {
		st.writeMu.Unlock()
	}
}

// commitTransaction implements the four-step commit protocol of
// spec.md §4.6 under the database-level commit mutex.
func (db *Database) commitTransaction(txn *Transaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	st, ok := db.series[txn.seriesID]
	if !ok {
		return wrapErr(KindCommitFailed, "series no longer registered", nil)
	}

	type flushed struct {
		id                  PageID
		version, addr, size uint64
	}
	toFlush := make([]flushed, 0, len(txn.dirty))

	for id := range txn.dirty {
		buf, err := txn.pageMap.GetPage(id)
		if err != nil {
			if db.metrics != nil {
				db.metrics.CommitErrors.Inc()
			}
			return wrapErr(KindCommitFailed, "read dirty page", err)
		}
		info, err := txn.pageMap.GetPageInfo(id)
		if err != nil {
			if db.metrics != nil {
				db.metrics.CommitErrors.Inc()
			}
			return wrapErr(KindCommitFailed, "read page info", err)
		}

		payload := encodePageExtentPayload(id, buf)
		addr, size, err := db.writer.writeExtent(extentKindPage, payload)
		if err != nil {
			if db.metrics != nil {
				db.metrics.CommitErrors.Inc()
			}
			return wrapErr(KindCommitFailed, "write page extent", err)
		}
		toFlush = append(toFlush, flushed{id, info.Version, addr, size})
	}

	newIdx := NewPageIndex(txn.entries)
	idxPayload := encodeIndexPayload(txn.seriesID, newIdx)
	idxAddr, idxSize, err := db.writer.writeExtent(extentKindIndex, idxPayload)
	if err != nil {
		if db.metrics != nil {
			db.metrics.CommitErrors.Inc()
		}
		return wrapErr(KindCommitFailed, "write index extent", err)
	}

	prevAddr, prevSize := st.indexAddr, st.indexSize
	st.indexAddr, st.indexSize = idxAddr, idxSize
	if err := db.rewriteSeriesDirectoryLocked(); err != nil {
		st.indexAddr, st.indexSize = prevAddr, prevSize
		if db.metrics != nil {
			db.metrics.CommitErrors.Inc()
		}
		return wrapErr(KindCommitFailed, "publish new index", err)
	}
	st.pageIndex = newIdx

	for _, fl := range toFlush {
		if err := txn.pageMap.FlushPage(fl.id, fl.version, fl.addr, fl.size); err != nil {
			return wrapErr(KindCommitFailed, "flush page", err)
		}
		if db.metrics != nil {
			db.metrics.PageFlushes.Inc()
		}
	}

	if db.metrics != nil {
		db.metrics.Commits.Inc()
	}
	db.log.Debug().Uint64("series_id", txn.seriesID).Int("pages_flushed", len(toFlush)).Msg("commit")
	return nil
}

// Close closes the underlying file handle.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	db.log.Info().Str("path", db.path).Msg("database closed")
	return db.f.Close()
}
