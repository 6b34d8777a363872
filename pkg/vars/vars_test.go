package vars

import (
	"bytes"
	"errors"
	"testing"

	"github.com/odvcencio/burrow/pkg/wire"
)

func TestSetGetInline(t *testing.T) {
	tab := New()
	if err := tab.Set("count", int32(3)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tab.Set("label", "hello"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := Value[int32](tab, "count")
	if !ok || got != 3 {
		t.Errorf("count: got %v (%v), want 3", got, ok)
	}
	if v := tab.Lookup("count"); v.Kind() != Int32 || v.Bound() {
		t.Errorf("count var: kind=%s bound=%v", v.Kind(), v.Bound())
	}
	if names := tab.Names(); len(names) != 2 || names[0] != "count" || names[1] != "label" {
		t.Errorf("Names: got %v", names)
	}
}

func TestSetIntNormalizesToInt64(t *testing.T) {
	tab := New()
	if err := tab.Set("n", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := Value[int64](tab, "n")
	if !ok || got != 7 {
		t.Errorf("n: got %v (%v), want int64 7", got, ok)
	}
}

func TestBindWritesThrough(t *testing.T) {
	tab := New()
	var width float64 = 1.5
	if err := tab.Bind("width", &width); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := tab.Set("width", 4.25); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if width != 4.25 {
		t.Errorf("bound field: got %v, want 4.25", width)
	}
	width = 9
	if got, _ := Value[float64](tab, "width"); got != 9 {
		t.Errorf("bound read: got %v, want 9", got)
	}
	if err := tab.Set("width", "nope"); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Set wrong kind: got %v, want ErrKindMismatch", err)
	}
}

func TestBindAdoptsExistingValue(t *testing.T) {
	tab := New()
	if err := tab.Set("name", "alpha"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var name string
	if err := tab.Bind("name", &name); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if name != "alpha" {
		t.Errorf("bound field: got %q, want alpha", name)
	}
	if tab.Len() != 1 {
		t.Errorf("Len: got %d, want 1", tab.Len())
	}
}

func TestBindRejectsUnsupportedPointer(t *testing.T) {
	tab := New()
	var m map[string]int
	if err := tab.Bind("m", &m); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Bind map: got %v, want ErrUnsupported", err)
	}
}

func TestDeleteReindexes(t *testing.T) {
	tab := New()
	for _, n := range []string{"a", "b", "c"} {
		if err := tab.Set(n, true); err != nil {
			t.Fatalf("Set %s: %v", n, err)
		}
	}
	if !tab.Delete("a") {
		t.Fatal("Delete a: got false")
	}
	if tab.Delete("a") {
		t.Error("Delete a twice: got true")
	}
	if v := tab.Lookup("c"); v == nil || v.Name() != "c" {
		t.Errorf("Lookup c after delete: got %v", v)
	}
}

func TestEncodeDecodeSkipsOpaque(t *testing.T) {
	tab := New()
	values := map[string]any{
		"b":   true,
		"i8":  int8(-3),
		"i16": int16(-300),
		"i32": int32(70000),
		"i64": int64(-1 << 40),
		"u8":  uint8(200),
		"u16": uint16(60000),
		"u32": uint32(4000000000),
		"u64": uint64(1 << 63),
		"f32": float32(0.25),
		"f64": 3.5,
		"s":   "text",
		"raw": []byte{0, 1, 2},
	}
	for _, name := range []string{"b", "i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64", "f32", "f64", "s", "raw"} {
		if err := tab.Set(name, values[name]); err != nil {
			t.Fatalf("Set %s: %v", name, err)
		}
	}
	if err := tab.Set("handle", struct{ x int }{1}); err != nil {
		t.Fatalf("Set opaque: %v", err)
	}

	enc := wire.NewEncoder()
	tab.Encode(enc)
	if err := enc.Err(); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(wire.NewDecoder(bytes.NewReader(enc.Output())))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !tab.Equal(got) {
		t.Errorf("decoded table differs: names=%v", got.Names())
	}
	if got.Lookup("handle") != nil {
		t.Error("opaque variable was persisted")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	enc := wire.NewEncoder()
	enc.Tag(tableTag)
	enc.Uint16(formatMajor)
	enc.Uint16(formatMinor)
	enc.Uint32(1)
	enc.Text("x")
	enc.Uint8(uint8(Opaque))
	_, err := Decode(wire.NewDecoder(bytes.NewReader(enc.Output())))
	if !errors.Is(err, ErrBadFormat) {
		t.Errorf("Decode: got %v, want ErrBadFormat", err)
	}
}

func TestDecodeRejectsNewerMajor(t *testing.T) {
	enc := wire.NewEncoder()
	enc.Tag(tableTag)
	enc.Uint16(formatMajor + 1)
	enc.Uint16(0)
	enc.Uint32(0)
	_, err := Decode(wire.NewDecoder(bytes.NewReader(enc.Output())))
	if !errors.Is(err, ErrBadFormat) {
		t.Errorf("Decode: got %v, want ErrBadFormat", err)
	}
}

func TestMergeWritesThroughBinding(t *testing.T) {
	dst := New()
	var count int32
	if err := dst.Bind("count", &count); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	src := New()
	if err := src.Set("count", int32(3)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := dst.Merge(src); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if count != 3 {
		t.Errorf("count: got %d, want 3", count)
	}
}
