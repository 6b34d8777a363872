package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxStringLen bounds every length-prefixed string or byte slice. Larger
// prefixes are treated as corruption rather than allocated.
const MaxStringLen = 64 << 20

// Tag is a 4-byte format signature.
type Tag [4]byte

var (
	ErrStringTooLong = errors.New("string exceeds maximum length")
	ErrBadTag        = errors.New("unexpected signature")
)

// Encoder accumulates big-endian primitives into an in-memory buffer. The
// buffer is addressable so fixed-width slots can be patched after the fact.
// The first failure is sticky and reported by Err.
type Encoder struct {
	buf bytes.Buffer
	err error
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Write implements io.Writer so class hooks can stream arbitrary bytes.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	return e.buf.Write(p)
}

func (e *Encoder) Tag(t Tag) { _, _ = e.Write(t[:]) }
func (e *Encoder) Uint8(v uint8) { _, _ = e.Write([]byte{v}) }
func (e *Encoder) Int8(v int8) { e.Uint8(uint8(v)) }
func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) }
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }
func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
		return
	}
	e.Uint8(0)
}

func (e *Encoder) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, _ = e.Write(b[:])
}

func (e *Encoder) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, _ = e.Write(b[:])
}

func (e *Encoder) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = e.Write(b[:])
}

// Bytes writes a uint32 length prefix followed by p.
func (e *Encoder) Bytes(p []byte) {
	if len(p) > MaxStringLen {
		e.fail(fmt.Errorf("encode %d bytes: %w", len(p), ErrStringTooLong))
		return
	}
	e.Uint32(uint32(len(p)))
	_, _ = e.Write(p)
}

// Text writes a uint32 length prefix followed by the UTF-8 bytes of s.
func (e *Encoder) Text(s string) {
	e.Bytes([]byte(s))
}

// Len returns the number of bytes written so far, i.e. the current offset.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// PatchUint32 overwrites the 4-byte slot at off, which must have been
// reserved earlier with Uint32.
func (e *Encoder) PatchUint32(off int, v uint32) {
	if e.err != nil {
		return
	}
	raw := e.buf.Bytes()
	if off < 0 || off+4 > len(raw) {
		e.fail(fmt.Errorf("patch offset %d out of range (len=%d)", off, len(raw)))
		return
	}
	binary.BigEndian.PutUint32(raw[off:off+4], v)
}

// Fail records err unless a failure is already recorded.
func (e *Encoder) Fail(err error) {
	e.fail(err)
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Err returns the first failure recorded by the encoder.
func (e *Encoder) Err() error {
	return e.err
}

// Output returns the encoded bytes. The slice aliases the encoder's buffer.
func (e *Encoder) Output() []byte {
	return e.buf.Bytes()
}

// Decoder reads big-endian primitives from r. After the first failure every
// read returns a zero value and Err reports the failure.
type Decoder struct {
	r   io.Reader
	n   int64
	err error
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Read implements io.Reader so class hooks can consume raw bytes.
func (d *Decoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	n, err := d.r.Read(p)
	d.n += int64(n)
	if err != nil && err != io.EOF {
		d.err = err
	}
	return n, err
}

func (d *Decoder) full(p []byte) bool {
	if d.err != nil {
		return false
	}
	n, err := io.ReadFull(d.r, p)
	d.n += int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return false
	}
	return true
}

// Tag reads a 4-byte signature.
func (d *Decoder) Tag() Tag {
	var t Tag
	d.full(t[:])
	return t
}

// Expect reads a signature and fails unless it equals want.
func (d *Decoder) Expect(want Tag) error {
	got := d.Tag()
	if d.err != nil {
		return d.err
	}
	if got != want {
		d.err = fmt.Errorf("%w: got %q, want %q", ErrBadTag, got[:], want[:])
	}
	return d.err
}

func (d *Decoder) Uint8() uint8 {
	var b [1]byte
	if !d.full(b[:]) {
		return 0
	}
	return b[0]
}

func (d *Decoder) Uint16() uint16 {
	var b [2]byte
	if !d.full(b[:]) {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

func (d *Decoder) Uint32() uint32 {
	var b [4]byte
	if !d.full(b[:]) {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (d *Decoder) Uint64() uint64 {
	var b [8]byte
	if !d.full(b[:]) {
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

func (d *Decoder) Bool() bool { return d.Uint8() != 0 }
func (d *Decoder) Int8() int8 { return int8(d.Uint8()) }
func (d *Decoder) Int16() int16 { return int16(d.Uint16()) }
func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }
func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }
func (d *Decoder) Float32() float32 { return math.Float32frombits(d.Uint32()) }
func (d *Decoder) Float64() float64 { return math.Float64frombits(d.Uint64()) }
func (d *Decoder) Text() string { return string(d.Bytes()) }
func (d *Decoder) Offset() int64 { return d.n }
func (d *Decoder) Err() error { return d.err }
func (d *Decoder) Fail(err error) { d.fail(err) }

// Bytes reads a uint32 length prefix followed by that many bytes.
func (d *Decoder) Bytes() []byte {
	n := d.Uint32()
	if d.err != nil {
		return nil
	}
	if n > MaxStringLen {
		d.err = fmt.Errorf("decode %d bytes: %w", n, ErrStringTooLong)
		return nil
	}
	out := make([]byte, n)
	if !d.full(out) {
		return nil
	}
	return out
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
