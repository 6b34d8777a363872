// Package vars implements the per-object variable store: an ordered table
// of named, typed values that round-trip through the object archive.
//
// A variable is either inline (the table owns the value) or bound (the table
// reads and writes through a caller-supplied pointer, so the owning code can
// keep using a plain struct field).
package vars

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind is the closed set of variable types.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Bytes
	// Opaque holds any Go value. It never leaves the process.
	Opaque
)

var kindNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
	Bytes:   "bytes",
	Opaque:  "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Persistable reports whether values of this kind are written to archives.
func (k Kind) Persistable() bool {
	return k > Invalid && k < Opaque
}

var (
	ErrKindMismatch = errors.New("variable kind mismatch")
	ErrUnsupported  = errors.New("unsupported variable type")
	ErrInvalidName  = errors.New("invalid variable name")
)

// KindOf returns the kind a value of v's dynamic type is stored as. Values
// of types outside the closed set are Opaque.
func KindOf(v any) Kind {
	switch v.(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case int:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case string:
		return String
	case []byte:
		return Bytes
	case nil:
		return Invalid
	default:
		return Opaque
	}
}

func kindOfPointer(p any) Kind {
	switch p.(type) {
	case *bool:
		return Bool
	case *int8:
		return Int8
	case *int16:
		return Int16
	case *int32:
		return Int32
	case *int64:
		return Int64
	case *uint8:
		return Uint8
	case *uint16:
		return Uint16
	case *uint32:
		return Uint32
	case *uint64:
		return Uint64
	case *float32:
		return Float32
	case *float64:
		return Float64
	case *string:
		return String
	case *[]byte:
		return Bytes
	default:
		return Invalid
	}
}

// normalize converts v to the canonical Go type of its kind.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []byte:
		return bytes.Clone(x)
	}
	return v
}

// Var is one named variable.
type Var struct {
	name  string
	kind  Kind
	value any
	ref   any
}

func (v *Var) Name() string { return v.name }
func (v *Var) Kind() Kind { return v.kind }

// Bound reports whether the variable reads and writes through a pointer.
func (v *Var) Bound() bool { return v.ref != nil }

// Value returns the current value, dereferencing bound variables.
func (v *Var) Value() any {
	if v.ref == nil {
		return v.value
	}
	switch p := v.ref.(type) {
	case *bool:
		return *p
	case *int8:
		return *p
	case *int16:
		return *p
	case *int32:
		return *p
	case *int64:
		return *p
	case *uint8:
		return *p
	case *uint16:
		return *p
	case *uint32:
		return *p
	case *uint64:
		return *p
	case *float32:
		return *p
	case *float64:
		return *p
	case *string:
		return *p
	case *[]byte:
		return bytes.Clone(*p)
	}
	return nil
}

func (v *Var) set(x any) error {
	k := KindOf(x)
	if v.ref == nil {
		v.kind = k
		v.value = normalize(x)
		return nil
	}
	if k != v.kind {
		return fmt.Errorf("set %q: %w: bound %s, got %s", v.name, ErrKindMismatch, v.kind, k)
	}
	x = normalize(x)
	switch p := v.ref.(type) {
	case *bool:
		*p = x.(bool)
	case *int8:
		*p = x.(int8)
	case *int16:
		*p = x.(int16)
	case *int32:
		*p = x.(int32)
	case *int64:
		*p = x.(int64)
	case *uint8:
		*p = x.(uint8)
	case *uint16:
		*p = x.(uint16)
	case *uint32:
		*p = x.(uint32)
	case *uint64:
		*p = x.(uint64)
	case *float32:
		*p = x.(float32)
	case *float64:
		*p = x.(float64)
	case *string:
		*p = x.(string)
	case *[]byte:
		*p = x.([]byte)
	}
	return nil
}

// Table is an ordered variable table. It is not safe for concurrent use;
// the owning object's lock guards it.
type Table struct {
	vars  []*Var
	index map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

func (t *Table) Len() int { return len(t.vars) }

// Names returns variable names in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.vars))
	for i, v := range t.vars {
		out[i] = v.name
	}
	return out
}

// Lookup returns the named variable or nil.
func (t *Table) Lookup(name string) *Var {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.vars[i]
}

// Get returns the value of the named variable.
func (t *Table) Get(name string) (any, bool) {
	v := t.Lookup(name)
	if v == nil {
		return nil, false
	}
	return v.Value(), true
}

// Set stores value under name. Inline variables take the kind of value;
// bound variables require the same kind and write through their pointer.
func (t *Table) Set(name string, value any) error {
	if name == "" {
		return ErrInvalidName
	}
	if KindOf(value) == Invalid {
		return fmt.Errorf("set %q: %w: nil", name, ErrUnsupported)
	}
	if v := t.Lookup(name); v != nil {
		return v.set(value)
	}
	v := &Var{name: name}
	if err := v.set(value); err != nil {
		return err
	}
	t.append(v)
	return nil
}

// Bind makes name an indirect variable backed by ptr, which must be a
// pointer to one of the persistable kinds. An existing variable of the same
// name is replaced; its current value is written through ptr first.
func (t *Table) Bind(name string, ptr any) error {
	if name == "" {
		return ErrInvalidName
	}
	k := kindOfPointer(ptr)
	if k == Invalid {
		return fmt.Errorf("bind %q: %w: %T", name, ErrUnsupported, ptr)
	}
	nv := &Var{name: name, kind: k, ref: ptr}
	if old := t.Lookup(name); old != nil {
		if old.kind == k {
			if err := nv.set(old.Value()); err != nil {
				return err
			}
		}
		t.vars[t.index[name]] = nv
		return nil
	}
	t.append(nv)
	return nil
}

// Delete removes the named variable and reports whether it existed.
func (t *Table) Delete(name string) bool {
	i, ok := t.index[name]
	if !ok {
		return false
	}
	t.vars = append(t.vars[:i], t.vars[i+1:]...)
	delete(t.index, name)
	for j := i; j < len(t.vars); j++ {
		t.index[t.vars[j].name] = j
	}
	return true
}

// Merge copies every variable of src into t through Set, so bound
// variables in t receive the incoming values.
func (t *Table) Merge(src *Table) error {
	for _, v := range src.vars {
		if err := t.Set(v.name, v.Value()); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both tables hold the same persistable variables
// with equal values, in any order.
func (t *Table) Equal(o *Table) bool {
	if t.persistableLen() != o.persistableLen() {
		return false
	}
	for _, v := range t.vars {
		if !v.kind.Persistable() {
			continue
		}
		ov := o.Lookup(v.name)
		if ov == nil || ov.kind != v.kind {
			return false
		}
		a, b := v.Value(), ov.Value()
		if v.kind == Bytes {
			if !bytes.Equal(a.([]byte), b.([]byte)) {
				return false
			}
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

func (t *Table) persistableLen() int {
	n := 0
	for _, v := range t.vars {
		if v.kind.Persistable() {
			n++
		}
	}
	return n
}

func (t *Table) append(v *Var) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[v.name] = len(t.vars)
	t.vars = append(t.vars, v)
}

// Value returns the named variable as a T.
func Value[T any](t *Table, name string) (T, bool) {
	var zero T
	raw, ok := t.Get(name)
	if !ok {
		return zero, false
	}
	out, ok := raw.(T)
	return out, ok
}
