package tsdb

import (
	"encoding/binary"
	"hash/crc32"
)

// PageID is an opaque, monotonically assigned, non-zero page identifier.
// It is unique for the lifetime of the database file; ids are never
// reused short of compaction, which this engine does not implement.
type PageID uint64

// InvalidPageID never denotes a real page.
const InvalidPageID PageID = 0

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PageBuffer is the decoded, in-memory form of one page: a parallel
// sequence of timestamps and fixed-width values for a single series.
type PageBuffer struct {
	valueSize  uint64
	timestamps []uint64
	values     [][]byte
}

// NewPageBuffer returns an empty buffer bound to valueSize.
func NewPageBuffer(valueSize uint64) *PageBuffer {
	return &PageBuffer{valueSize: valueSize}
}

// ValueSize returns the fixed width, in bytes, of every value in the buffer.
func (p *PageBuffer) ValueSize() uint64 { return p.valueSize }

// Size returns the number of samples currently held.
func (p *PageBuffer) Size() int { return len(p.timestamps) }

// Append pushes a sample to the end. ts must be >= the last timestamp if
// the buffer is non-empty; violating this is a programmer error and
// panics, matching the "programmer error" classification of spec.md §4.1.
func (p *PageBuffer) Append(ts uint64, v []byte) {
	if n := len(p.timestamps); n > 0 && ts < p.timestamps[n-1] {
		panic("tsdb: PageBuffer.Append: timestamp out of order")
	}
	p.insertAt(len(p.timestamps), ts, v)
}

// Insert places a sample at pos, which must be in [0, Size()]. Ordering
// is the caller's responsibility (the cursor seeks first).
func (p *PageBuffer) Insert(pos int, ts uint64, v []byte) {
	if pos < 0 || pos > len(p.timestamps) {
		panic("tsdb: PageBuffer.Insert: position out of range")
	}
	p.insertAt(pos, ts, v)
}

func (p *PageBuffer) insertAt(pos int, ts uint64, v []byte) {
	val := make([]byte, p.valueSize)
	copy(val, v)

	p.timestamps = append(p.timestamps, 0)
	copy(p.timestamps[pos+1:], p.timestamps[pos:])
	p.timestamps[pos] = ts

	p.values = append(p.values, nil)
	copy(p.values[pos+1:], p.values[pos:])
	p.values[pos] = val
}

// Update replaces the value at pos, leaving its timestamp unchanged.
func (p *PageBuffer) Update(pos int, v []byte) {
	if pos < 0 || pos >= len(p.values) {
		panic("tsdb: PageBuffer.Update: position out of range")
	}
	val := make([]byte, p.valueSize)
	copy(val, v)
	p.values[pos] = val
}

// GetTimestamp returns the timestamp at pos.
func (p *PageBuffer) GetTimestamp(pos int) uint64 {
	return p.timestamps[pos]
}

// GetValue copies the value at pos into a new slice.
func (p *PageBuffer) GetValue(pos int) []byte {
	out := make([]byte, p.valueSize)
	copy(out, p.values[pos])
	return out
}

// Clone returns a deep, independent copy of the buffer. Used when the
// page map hands out a private copy to a caller (spec.md §4.3 GetPage).
func (p *PageBuffer) Clone() *PageBuffer {
	c := &PageBuffer{
		valueSize:  p.valueSize,
		timestamps: append([]uint64(nil), p.timestamps...),
		values:     make([][]byte, len(p.values)),
	}
	for i, v := range p.values {
		c.values[i] = append([]byte(nil), v...)
	}
	return c
}

// Truncate keeps only the first n samples, discarding the rest. Used by
// the cursor's split policy to shrink the left half of a split page.
func (p *PageBuffer) Truncate(n int) {
	if n < 0 || n > len(p.timestamps) {
		panic("tsdb: PageBuffer.Truncate: n out of range")
	}
	p.timestamps = p.timestamps[:n]
	p.values = p.values[:n]
}

// EncodedSize returns the exact byte length Encode will produce, without
// allocating. Used by the cursor's split policy to test the soft cap.
func (p *PageBuffer) EncodedSize() int {
	n := len(p.timestamps)
	return 16 + n*8 + n*int(p.valueSize)
}

// Encode serializes the buffer per spec.md §4.1:
//
//	u64 value_size
//	u64 n
//	n x u64 timestamps
//	n x value_size bytes values (contiguous)
func (p *PageBuffer) Encode() []byte {
	n := len(p.timestamps)
	buf := make([]byte, p.EncodedSize())
	binary.LittleEndian.PutUint64(buf[0:8], p.valueSize)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n))

	off := 16
	for _, ts := range p.timestamps {
		binary.LittleEndian.PutUint64(buf[off:off+8], ts)
		off += 8
	}
	for _, v := range p.values {
		copy(buf[off:off+int(p.valueSize)], v)
		off += int(p.valueSize)
	}
	return buf
}

// DecodePageBuffer deserializes bytes produced by Encode, rejecting any
// input whose length does not exactly match 16 + n*(8 + value_size).
func DecodePageBuffer(data []byte) (*PageBuffer, error) {
	if len(data) < 16 {
		return nil, wrapErr(KindCorruptData, "page buffer: short header", nil)
	}
	valueSize := binary.LittleEndian.Uint64(data[0:8])
	n := binary.LittleEndian.Uint64(data[8:16])

	want := 16 + n*8 + n*valueSize
	if uint64(len(data)) != want {
		return nil, wrapErr(KindCorruptData, "page buffer: length mismatch", nil)
	}

	p := &PageBuffer{
		valueSize:  valueSize,
		timestamps: make([]uint64, n),
		values:     make([][]byte, n),
	}

	off := uint64(16)
	for i := uint64(0); i < n; i++ {
		p.timestamps[i] = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	for i := uint64(0); i < n; i++ {
		v := make([]byte, valueSize)
		copy(v, data[off:off+valueSize])
		p.values[i] = v
		off += valueSize
	}
	return p, nil
}

// pageExtentCRC computes a CRC32-Castagnoli checksum over a page
// extent's bytes (leading page id + encoded buffer), grounded on the
// teacher's page.go checksum helpers.
func pageExtentCRC(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
