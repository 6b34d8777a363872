package vars

import (
	"errors"
	"fmt"

	"github.com/odvcencio/burrow/pkg/wire"
)

// Sub-format header. The major version gates decoding; minor bumps are
// additive.
var tableTag = wire.Tag{'B', 'V', 'A', 'R'}

const (
	formatMajor = 1
	formatMinor = 0
)

var ErrBadFormat = errors.New("malformed variable table")

// Encode writes the persistable variables of t in table order:
//
//	"BVAR" major minor count
//	count × (name kind payload)
func (t *Table) Encode(e *wire.Encoder) {
	e.Tag(tableTag)
	e.Uint16(formatMajor)
	e.Uint16(formatMinor)
	e.Uint32(uint32(t.persistableLen()))
	for _, v := range t.vars {
		if !v.kind.Persistable() {
			continue
		}
		e.Text(v.name)
		e.Uint8(uint8(v.kind))
		encodeValue(e, v.kind, v.Value())
	}
}

func encodeValue(e *wire.Encoder, k Kind, x any) {
	switch k {
	case Bool:
		e.Bool(x.(bool))
	case Int8:
		e.Int8(x.(int8))
	case Int16:
		e.Int16(x.(int16))
	case Int32:
		e.Int32(x.(int32))
	case Int64:
		e.Int64(x.(int64))
	case Uint8:
		e.Uint8(x.(uint8))
	case Uint16:
		e.Uint16(x.(uint16))
	case Uint32:
		e.Uint32(x.(uint32))
	case Uint64:
		e.Uint64(x.(uint64))
	case Float32:
		e.Float32(x.(float32))
	case Float64:
		e.Float64(x.(float64))
	case String:
		e.Text(x.(string))
	case Bytes:
		e.Bytes(x.([]byte))
	default:
		e.Fail(fmt.Errorf("encode variable: %w: %s", ErrUnsupported, k))
	}
}

// Decode reads a table written by Encode.
func Decode(d *wire.Decoder) (*Table, error) {
	if err := d.Expect(tableTag); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	major := d.Uint16()
	_ = d.Uint16()
	if d.Err() == nil && major > formatMajor {
		return nil, fmt.Errorf("decode variables: %w: version %d newer than %d", ErrBadFormat, major, formatMajor)
	}
	n := d.Uint32()
	t := New()
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		name := d.Text()
		k := Kind(d.Uint8())
		if d.Err() != nil {
			break
		}
		if !k.Persistable() {
			return nil, fmt.Errorf("decode variable %q: %w: kind code %d", name, ErrBadFormat, uint8(k))
		}
		x := decodeValue(d, k)
		if d.Err() != nil {
			break
		}
		if err := t.Set(name, x); err != nil {
			return nil, fmt.Errorf("decode variable %q: %w", name, err)
		}
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	return t, nil
}

func decodeValue(d *wire.Decoder, k Kind) any {
	switch k {
	case Bool:
		return d.Bool()
	case Int8:
		return d.Int8()
	case Int16:
		return d.Int16()
	case Int32:
		return d.Int32()
	case Int64:
		return d.Int64()
	case Uint8:
		return d.Uint8()
	case Uint16:
		return d.Uint16()
	case Uint32:
		return d.Uint32()
	case Uint64:
		return d.Uint64()
	case Float32:
		return d.Float32()
	case Float64:
		return d.Float64()
	case String:
		return d.Text()
	case Bytes:
		b := d.Bytes()
		if b == nil {
			b = []byte{}
		}
		return b
	}
	return nil
}
