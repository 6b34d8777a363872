package object

import (
	"bytes"
	"os"
	"testing"
)

func saveForeign(t *testing.T, tc *testClasses) (*Space, string) {
	t.Helper()
	writer := tempSpace(t, tc)
	root := mustRoot(t, writer)
	b := mustAttach(t, writer, root, tc.baz, "b")
	b.SetFlags(FlagPersistent)
	b.Data(tc.bar).(*note).Text = "base part"
	b.Data(tc.baz).(*note).Text = "derived part"
	mustSetVar(t, b, "title", "kept")
	if err := writer.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	file, err := writer.ArchiveFile(b)
	if err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}
	return writer, file
}

func readHeaderFile(t *testing.T, file string) (*Header, []byte) {
	t.Helper()
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	h, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	return h, raw
}

func TestOpaqueClassRoundTrip(t *testing.T) {
	tc := newTestClasses()
	writer, file := saveForeign(t, tc)
	h, want := readHeaderFile(t, file)

	reg := NewRegistry()
	c, err := reg.Opaque(h)
	if err != nil {
		t.Fatalf("Opaque: %v", err)
	}
	if c.Ancestry() != "Object:Bar:Baz" || c.Version != tc.baz.Version || c.Super.Version != tc.bar.Version {
		t.Fatalf("stand-in = %s %s/%s", c.Ancestry(), c.Super.Version, c.Version)
	}
	if again, _ := reg.Opaque(h); again != c {
		t.Fatal("Opaque registered a second class for the same ancestry")
	}
	if _, ok := reg.Lookup("Object:Bar"); !ok {
		t.Fatal("intermediate level not registered")
	}

	s := NewSpace(WithRegistry(reg), WithStore(writer.Store()))
	root := mustRoot(t, s)
	b, err := s.LoadObject(root, c, "b")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if err := s.PageIn(b); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	if changed, err := s.Changed(b); err != nil || changed {
		t.Fatalf("Changed = %v, %v", changed, err)
	}

	if err := s.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, got := readHeaderFile(t, file)
	if !bytes.Equal(got, want) {
		t.Fatal("saving a stand-in object rewrote the archive")
	}

	mustSetVar(t, b, "title", "edited")
	if changed, err := s.Changed(b); err != nil || !changed {
		t.Fatalf("Changed after SetVar = %v, %v", changed, err)
	}
}

func TestOpaqueClassKeepsRegisteredLevels(t *testing.T) {
	tc := newTestClasses()
	writer, file := saveForeign(t, tc)
	h, _ := readHeaderFile(t, file)

	reg := NewRegistry()
	if err := reg.Register(tc.bar); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c, err := reg.Opaque(h)
	if err != nil {
		t.Fatalf("Opaque: %v", err)
	}
	if c.Super != tc.bar {
		t.Fatalf("stand-in super = %s, want the registered Bar", c.Super.Ancestry())
	}

	s := NewSpace(WithRegistry(reg), WithStore(writer.Store()))
	root := mustRoot(t, s)
	b, err := s.LoadObject(root, c, "b")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if err := s.PageIn(b); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	if got := b.Data(tc.bar).(*note).Text; got != "base part" {
		t.Fatalf("registered level dataset = %q", got)
	}
	if changed, err := s.Changed(b); err != nil || changed {
		t.Fatalf("Changed = %v, %v", changed, err)
	}
}
