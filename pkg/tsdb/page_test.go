package tsdb

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestPageBufferEncodeDecodeRoundTrip(t *testing.T) {
	p := NewPageBuffer(8)
	for i := uint64(0); i < 50; i++ {
		p.Append(i*2, u64Bytes(i))
	}

	decoded, err := DecodePageBuffer(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Size() != p.Size() {
		t.Fatalf("size mismatch: got %d want %d", decoded.Size(), p.Size())
	}
	for i := 0; i < p.Size(); i++ {
		if decoded.GetTimestamp(i) != p.GetTimestamp(i) {
			t.Fatalf("timestamp[%d] mismatch", i)
		}
		if !bytes.Equal(decoded.GetValue(i), p.GetValue(i)) {
			t.Fatalf("value[%d] mismatch", i)
		}
	}
}

func TestPageBufferMonotonic(t *testing.T) {
	p := NewPageBuffer(8)
	for i := uint64(0); i < 10; i++ {
		p.Append(i, u64Bytes(i))
	}
	for i := 0; i < p.Size()-1; i++ {
		if p.GetTimestamp(i) > p.GetTimestamp(i+1) {
			t.Fatalf("not monotonic at %d", i)
		}
	}
}

func TestPageBufferAppendOutOfOrderPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-order append")
		}
	}()
	p := NewPageBuffer(8)
	p.Append(10, u64Bytes(1))
	p.Append(5, u64Bytes(2))
}

func TestPageBufferInsertAndUpdate(t *testing.T) {
	p := NewPageBuffer(8)
	p.Append(0, u64Bytes(0))
	p.Append(20, u64Bytes(1))

	p.Insert(1, 10, u64Bytes(99))
	if p.Size() != 3 {
		t.Fatalf("expected size 3, got %d", p.Size())
	}
	if p.GetTimestamp(1) != 10 {
		t.Fatalf("expected inserted timestamp 10, got %d", p.GetTimestamp(1))
	}

	p.Update(1, u64Bytes(123))
	if binary.LittleEndian.Uint64(p.GetValue(1)) != 123 {
		t.Fatalf("update did not take effect")
	}
	if p.GetTimestamp(1) != 10 {
		t.Fatalf("update must not change timestamp")
	}
}

func TestPageBufferDecodeRejectsLengthMismatch(t *testing.T) {
	p := NewPageBuffer(8)
	p.Append(1, u64Bytes(1))
	enc := p.Encode()
	if _, err := DecodePageBuffer(enc[:len(enc)-1]); err == nil {
		t.Fatal("expected decode to reject truncated input")
	}
}

func TestPageBufferTruncate(t *testing.T) {
	p := NewPageBuffer(8)
	for i := uint64(0); i < 10; i++ {
		p.Append(i, u64Bytes(i))
	}
	p.Truncate(4)
	if p.Size() != 4 {
		t.Fatalf("expected size 4 after truncate, got %d", p.Size())
	}
	if p.GetTimestamp(3) != 3 {
		t.Fatalf("unexpected timestamp after truncate")
	}
}
