package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncoderDecoderPrimitives(t *testing.T) {
	e := NewEncoder()
	e.Tag(Tag{'T', 'E', 'S', 'T'})
	e.Uint8(7)
	e.Uint16(0xBEEF)
	e.Uint32(0xDEADBEEF)
	e.Uint64(1 << 60)
	e.Int32(-5)
	e.Float64(2.5)
	e.Bool(true)
	e.Text("héllo")
	if err := e.Err(); err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := NewDecoder(bytes.NewReader(e.Output()))
	if err := d.Expect(Tag{'T', 'E', 'S', 'T'}); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if got := d.Uint8(); got != 7 {
		t.Errorf("Uint8: got %d", got)
	}
	if got := d.Uint16(); got != 0xBEEF {
		t.Errorf("Uint16: got %x", got)
	}
	if got := d.Uint32(); got != 0xDEADBEEF {
		t.Errorf("Uint32: got %x", got)
	}
	if got := d.Uint64(); got != 1<<60 {
		t.Errorf("Uint64: got %d", got)
	}
	if got := d.Int32(); got != -5 {
		t.Errorf("Int32: got %d", got)
	}
	if got := d.Float64(); got != 2.5 {
		t.Errorf("Float64: got %v", got)
	}
	if !d.Bool() {
		t.Error("Bool: got false")
	}
	if got := d.Text(); got != "héllo" {
		t.Errorf("Text: got %q", got)
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Offset() != int64(len(e.Output())) {
		t.Errorf("Offset: got %d, want %d", d.Offset(), len(e.Output()))
	}
}

func TestPatchUint32(t *testing.T) {
	e := NewEncoder()
	e.Text("x")
	slot := e.Len()
	e.Uint32(0)
	e.Text("tail")
	e.PatchUint32(slot, uint32(e.Len()))

	d := NewDecoder(bytes.NewReader(e.Output()))
	_ = d.Text()
	if got := d.Uint32(); int(got) != e.Len() {
		t.Errorf("patched slot: got %d, want %d", got, e.Len())
	}

	e.PatchUint32(e.Len()-2, 1)
	if e.Err() == nil {
		t.Error("PatchUint32 past end: expected error")
	}
}

func TestDecoderTruncated(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0, 0}))
	_ = d.Uint32()
	if !errors.Is(d.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("Err: got %v, want ErrUnexpectedEOF", d.Err())
	}
	if got := d.Uint8(); got != 0 {
		t.Errorf("read after failure: got %d, want 0", got)
	}
}

func TestDecoderRejectsHugeLength(t *testing.T) {
	e := NewEncoder()
	e.Uint32(MaxStringLen + 1)
	d := NewDecoder(bytes.NewReader(e.Output()))
	_ = d.Bytes()
	if !errors.Is(d.Err(), ErrStringTooLong) {
		t.Errorf("Err: got %v, want ErrStringTooLong", d.Err())
	}
}

func TestExpectMismatch(t *testing.T) {
	d := NewDecoder(strings.NewReader("NOPE"))
	err := d.Expect(Tag{'B', 'R', 'O', 'B'})
	if !errors.Is(err, ErrBadTag) {
		t.Errorf("Expect: got %v, want ErrBadTag", err)
	}
}
