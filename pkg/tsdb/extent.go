package tsdb

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	superblockSize   = 4096
	superblockMagic  = "ZDB00001"
	superblockCRCOff = superblockSize - 4
)

// Extent kinds, per spec.md §6.
const (
	extentKindPage      uint64 = 0
	extentKindIndex     uint64 = 1
	extentKindSeriesDir uint64 = 2
)

const extentHeaderSize = 16 // u64 kind + u64 length

// superblock is the fixed 4 KiB root record at offset 0 of the database
// file.
type superblock struct {
	generation     uint64
	indexRootAddr  uint64
	indexRootSize  uint64
}

// marshal renders the superblock per spec.md §6:
//
//	magic[8] = "ZDB00001"
//	u64 generation
//	u64 index_root_addr
//	u64 index_root_size
//	zero padding
//	u32 crc32 over the preceding bytes
func (s *superblock) marshal() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:8], superblockMagic)
	binary.LittleEndian.PutUint64(buf[8:16], s.generation)
	binary.LittleEndian.PutUint64(buf[16:24], s.indexRootAddr)
	binary.LittleEndian.PutUint64(buf[24:32], s.indexRootSize)
	// buf[32:superblockCRCOff] left zero (padding).
	crc := crc32.Checksum(buf[:superblockCRCOff], crcTable)
	binary.LittleEndian.PutUint32(buf[superblockCRCOff:], crc)
	return buf
}

func unmarshalSuperblock(buf []byte) (*superblock, error) {
	if len(buf) != superblockSize {
		return nil, wrapErr(KindCorruptData, "superblock: wrong size", nil)
	}
	if string(buf[0:8]) != superblockMagic {
		return nil, wrapErr(KindCorruptData, "superblock: bad magic", nil)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[superblockCRCOff:])
	gotCRC := crc32.Checksum(buf[:superblockCRCOff], crcTable)
	if wantCRC != gotCRC {
		return nil, wrapErr(KindCorruptData, fmt.Sprintf(
			"superblock: crc mismatch (want %08x, got %08x)", wantCRC, gotCRC), nil)
	}
	return &superblock{
		generation:    binary.LittleEndian.Uint64(buf[8:16]),
		indexRootAddr: binary.LittleEndian.Uint64(buf[16:24]),
		indexRootSize: binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// writeSuperblock writes the superblock at its fixed offset. It does not
// fsync; callers sync the file afterwards.
func writeSuperblock(f fileWriterAt, s *superblock) error {
	if _, err := f.WriteAt(s.marshal(), 0); err != nil {
		return wrapErr(KindIOError, "write superblock", err)
	}
	return nil
}

func readSuperblock(f io.ReaderAt) (*superblock, error) {
	buf := make([]byte, superblockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, wrapErr(KindIOError, "read superblock", err)
	}
	return unmarshalSuperblock(buf)
}

// fileWriterAt is the subset of *os.File this package needs for writes,
// narrowed for testability.
type fileWriterAt interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
}

// extentWriter appends length-prefixed extents to a file starting at a
// given offset, tracking the next free offset (spec.md §5's "append
// cursor for extent allocation").
type extentWriter struct {
	f      fileWriterAt
	offset uint64
}

// writeExtent appends kind/payload at the writer's current offset and
// returns (addr, size) where size includes the 16-byte header.
func (w *extentWriter) writeExtent(kind uint64, payload []byte) (addr, size uint64, err error) {
	hdr := make([]byte, extentHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], kind)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(payload)))

	addr = w.offset
	if _, err = w.f.WriteAt(hdr, int64(addr)); err != nil {
		return 0, 0, wrapErr(KindIOError, "write extent header", err)
	}
	if len(payload) > 0 {
		if _, err = w.f.WriteAt(payload, int64(addr+extentHeaderSize)); err != nil {
			return 0, 0, wrapErr(KindIOError, "write extent payload", err)
		}
	}

	size = extentHeaderSize + uint64(len(payload))
	w.offset = addr + size
	return addr, size, nil
}

// readExtentHeader reads just the 16-byte kind/length header at addr,
// used when scanning the extent region without knowing sizes in advance
// (database open's page-location recovery scan).
func readExtentHeader(f io.ReaderAt, addr uint64) (kind, length uint64, err error) {
	hdr := make([]byte, extentHeaderSize)
	if _, err = f.ReadAt(hdr, int64(addr)); err != nil {
		return 0, 0, wrapErr(KindIOError, "read extent header", err)
	}
	return binary.LittleEndian.Uint64(hdr[0:8]), binary.LittleEndian.Uint64(hdr[8:16]), nil
}

// readExtent reads and validates the extent at addr/size, returning its
// kind and payload.
func readExtent(f io.ReaderAt, addr, size uint64) (kind uint64, payload []byte, err error) {
	if size < extentHeaderSize {
		return 0, nil, wrapErr(KindCorruptData, "extent: size smaller than header", nil)
	}
	hdr := make([]byte, extentHeaderSize)
	if _, err = f.ReadAt(hdr, int64(addr)); err != nil {
		return 0, nil, wrapErr(KindIOError, "read extent header", err)
	}
	kind = binary.LittleEndian.Uint64(hdr[0:8])
	length := binary.LittleEndian.Uint64(hdr[8:16])
	if extentHeaderSize+length != size {
		return 0, nil, wrapErr(KindCorruptData, "extent: length mismatch", nil)
	}
	payload = make([]byte, length)
	if length > 0 {
		if _, err = f.ReadAt(payload, int64(addr+extentHeaderSize)); err != nil {
			return 0, nil, wrapErr(KindIOError, "read extent payload", err)
		}
	}
	return kind, payload, nil
}

// encodePageExtentPayload prefixes the PageBuffer encoding with the
// page's own id. This is additive to spec.md §6's literal page payload
// description; see DESIGN.md Open Question 1 for why it's required to
// reconstruct the PageMap's cold directory on reopen.
func encodePageExtentPayload(id PageID, buf *PageBuffer) []byte {
	enc := buf.Encode()
	out := make([]byte, 8+len(enc))
	binary.LittleEndian.PutUint64(out[0:8], uint64(id))
	copy(out[8:], enc)
	return out
}

func decodePageExtentPayload(payload []byte) (PageID, *PageBuffer, error) {
	if len(payload) < 8 {
		return 0, nil, wrapErr(KindCorruptData, "page extent: short payload", nil)
	}
	id := PageID(binary.LittleEndian.Uint64(payload[0:8]))
	buf, err := DecodePageBuffer(payload[8:])
	if err != nil {
		return 0, nil, err
	}
	return id, buf, nil
}

// encodeIndexPayload serializes a PageIndex for one series per spec.md
// §6:
//
//	u64 series_id
//	u64 n
//	n x (u64 first_timestamp, u64 page_id)
func encodeIndexPayload(seriesID uint64, idx *PageIndex) []byte {
	entries := idx.Entries()
	buf := make([]byte, 16+len(entries)*16)
	binary.LittleEndian.PutUint64(buf[0:8], seriesID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(entries)))
	off := 16
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.FirstTimestamp)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(e.PageID))
		off += 16
	}
	return buf
}

func decodeIndexPayload(payload []byte) (seriesID uint64, idx *PageIndex, err error) {
	if len(payload) < 16 {
		return 0, nil, wrapErr(KindCorruptData, "index payload: short header", nil)
	}
	seriesID = binary.LittleEndian.Uint64(payload[0:8])
	n := binary.LittleEndian.Uint64(payload[8:16])
	if uint64(len(payload)) != 16+n*16 {
		return 0, nil, wrapErr(KindCorruptData, "index payload: length mismatch", nil)
	}
	entries := make([]PageIndexEntry, n)
	off := 16
	for i := uint64(0); i < n; i++ {
		entries[i] = PageIndexEntry{
			FirstTimestamp: binary.LittleEndian.Uint64(payload[off : off+8]),
			PageID:         PageID(binary.LittleEndian.Uint64(payload[off+8 : off+16])),
		}
		off += 16
	}
	return seriesID, NewPageIndex(entries), nil
}

// seriesDirEntry describes one registered series as stored in the
// series-directory extent.
type seriesDirEntry struct {
	seriesID  uint64
	valueSize uint64
	indexAddr uint64
	indexSize uint64
}

// encodeSeriesDirPayload serializes the series directory (series_id ->
// value_size/index_addr/index_size), per spec.md §6.
func encodeSeriesDirPayload(entries []seriesDirEntry) []byte {
	buf := make([]byte, 8+len(entries)*32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(entries)))
	off := 8
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.seriesID)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.valueSize)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], e.indexAddr)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], e.indexSize)
		off += 32
	}
	return buf
}

func decodeSeriesDirPayload(payload []byte) ([]seriesDirEntry, error) {
	if len(payload) < 8 {
		return nil, wrapErr(KindCorruptData, "series dir: short header", nil)
	}
	n := binary.LittleEndian.Uint64(payload[0:8])
	if uint64(len(payload)) != 8+n*32 {
		return nil, wrapErr(KindCorruptData, "series dir: length mismatch", nil)
	}
	out := make([]seriesDirEntry, n)
	off := 8
	for i := uint64(0); i < n; i++ {
		out[i] = seriesDirEntry{
			seriesID:  binary.LittleEndian.Uint64(payload[off : off+8]),
			valueSize: binary.LittleEndian.Uint64(payload[off+8 : off+16]),
			indexAddr: binary.LittleEndian.Uint64(payload[off+16 : off+24]),
			indexSize: binary.LittleEndian.Uint64(payload[off+24 : off+32]),
		}
		off += 32
	}
	return out, nil
}
