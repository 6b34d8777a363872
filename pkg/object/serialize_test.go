package object

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/burrow/pkg/vars"
	"github.com/odvcencio/burrow/pkg/wire"
)

func TestSerializeHeaderRoundTrip(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	b := mustAttach(t, s, a, tc.baz, "b")
	eph := mustAttach(t, s, a, tc.foo, "scratch")

	a.SetFlags(FlagPersistent | FlagSaveChildren | FlagPreserveDeps)
	b.SetFlags(FlagPersistent)
	a.AddDep(b, true)
	a.AddDep(eph, false)
	mustSetVar(t, a, "title", "hello")
	mustSetVar(t, a, "count", int32(7))
	mustSetVar(t, a, "handle", &struct{}{})

	var buf bytes.Buffer
	if err := s.Serialize(a, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	h, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Major != ArchiveMajor || h.Ancestry != "Object:Foo" || h.Module != "test" {
		t.Fatalf("header = %+v", h)
	}
	if h.Flags != FlagPersistent|FlagSaveChildren {
		t.Fatalf("flags = %s, want transient bits dropped", h.Flags)
	}
	if len(h.Deps) != 1 || h.Deps[0] != "/a/b" {
		t.Fatalf("deps = %v, want only the persistent edge", h.Deps)
	}
	if v, ok := vars.Value[int32](h.Vars, "count"); !ok || v != 7 {
		t.Fatalf("count = %v, %v", v, ok)
	}
	if _, ok := h.Vars.Get("handle"); ok {
		t.Fatal("opaque variable was archived")
	}
	if len(h.Children) != 1 || h.Children[0] != (ChildEntry{Name: "b", Ancestry: "Object:Bar:Baz"}) {
		t.Fatalf("children = %+v", h.Children)
	}
	if len(h.Dataset.Levels) != 2 || h.Dataset.Levels[1] != tc.foo.Version {
		t.Fatalf("dataset levels = %+v", h.Dataset.Levels)
	}
	if !bytes.Equal(buf.Bytes()[h.DataOffset:h.DataOffset+4], []byte("BRDS")) {
		t.Fatal("dataset offset does not point at the dataset header")
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	if _, err := ReadHeader(strings.NewReader("nope")); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("ReadHeader: %v, want ErrBadArchive", err)
	}

	tc := newTestClasses()
	s := tempSpace(t, tc)
	a := mustNew(t, s, tc.foo, "a")
	var buf bytes.Buffer
	if err := s.Serialize(a, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	raw := bytes.Clone(buf.Bytes())
	raw[5] = 9 // major version low byte
	if _, err := ReadHeader(bytes.NewReader(raw)); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("newer major: %v, want ErrBadArchive", err)
	}
	if _, err := ReadHeader(bytes.NewReader(buf.Bytes()[:20])); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("truncated: %v, want ErrBadArchive", err)
	}
}

// TestReloadSubtreeResolvesToNewObjects saves R/A/B where B depends on A,
// tears the tree down, reloads A under a fresh root and checks that B's
// edge lands on the reloaded A.
func TestReloadSubtreeResolvesToNewObjects(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)

	r := mustRoot(t, s)
	a := mustAttach(t, s, r, tc.foo, "A")
	b := mustAttach(t, s, a, tc.bar, "B")
	a.SetFlags(FlagPersistent | FlagSaveChildren)
	b.SetFlags(FlagPersistent)
	b.AddDep(a, true)
	if err := b.SetVar("count", int32(3)); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	b.Data(tc.bar).(*note).Text = "payload"
	b.Data(tc.bar).(*note).Ref = a

	if err := s.SaveTree(a); err != nil {
		t.Fatalf("SaveTree: %v", err)
	}
	oldA := a.Handle()
	s.Destroy(r)
	if s.Len() != 0 {
		t.Fatalf("Len after destroy = %d", s.Len())
	}

	r2 := mustRoot(t, s)
	a2, err := s.LoadObject(r2, tc.foo, "A")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if err := s.ResolveDeps(r2); err != nil {
		t.Fatalf("ResolveDeps: %v", err)
	}
	b2, err := s.Find(r2, "/A/B")
	if err != nil {
		t.Fatalf("Find /A/B: %v", err)
	}
	if b2.Class() != tc.bar || !b2.HasFlag(FlagPersistent) || b2.HasFlag(FlagResident) {
		t.Fatalf("B' class=%s flags=%s", b2.Class().Name, b2.Flags())
	}
	deps := b2.Deps()
	if len(deps) != 1 || deps[0].Target != a2.Handle() || deps[0].Target == oldA {
		t.Fatalf("B' deps = %+v, want edge to A' (%d)", deps, a2.Handle())
	}
	if v, ok := b2.Var("count"); !ok || v != int32(3) {
		t.Fatalf("B' count = %v, %v", v, ok)
	}

	if err := s.PageIn(b2); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	n := b2.Data(tc.bar).(*note)
	if n.Text != "payload" || n.Ref != a2 {
		t.Fatalf("B' dataset = %+v", n)
	}
	if !strings.Contains(strings.Join(tc.trace, ","), "load Bar 2.1") {
		t.Fatalf("Load hook did not see stored version: %v", tc.trace)
	}
}

func TestArchiveLocation(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	b := mustAttach(t, s, a, tc.baz, "b")

	rel, direct, err := s.archiveLocation(b)
	if err != nil || direct {
		t.Fatalf("archiveLocation = %q, %v, %v", rel, direct, err)
	}
	if want := filepath.Join("a", "b.baz"); rel != want {
		t.Fatalf("rel = %q, want %q", rel, want)
	}
	if rel, _, _ := s.archiveLocation(root); rel != RootArchiveName+".object" {
		t.Fatalf("root rel = %q", rel)
	}

	tc.baz.Dir = "shapes"
	defer func() { tc.baz.Dir = "" }()
	if rel, _, _ := s.archiveLocation(b); rel != filepath.Join("shapes", "a", "b.baz") {
		t.Fatalf("rel with dir = %q", rel)
	}

	override := filepath.Join(t.TempDir(), "custom.bin")
	b.SetArchivePath(override)
	if err := s.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(override); err != nil {
		t.Fatalf("override not written: %v", err)
	}
	if got, _ := s.ArchiveFile(b); got != override {
		t.Fatalf("ArchiveFile = %q", got)
	}
}

func TestDependencyOnFormerRootSurvivesReload(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	outer := mustRoot(t, s)
	sub, err := s.NewRoot(tc.foo)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	if err := s.Attach(outer, sub); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	b := mustAttach(t, s, outer, tc.foo, "b")
	b.SetFlags(FlagPersistent)
	b.AddDep(sub, true)
	if err := s.Save(b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Load(b); err != nil {
		t.Fatalf("Load: %v", err)
	}
	deps := b.Deps()
	if len(deps) != 1 || deps[0].Target != sub.Handle() {
		t.Fatalf("deps = %+v, want one edge on %s", deps, sub)
	}
}

func TestLoadRestoresResidentChildren(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	b := mustAttach(t, s, a, tc.foo, "b")
	c := mustAttach(t, s, a, tc.foo, "c")
	a.SetFlags(FlagPersistent | FlagSaveChildren)
	b.SetFlags(FlagPersistent)
	c.SetFlags(FlagPersistent)
	b.Data(tc.foo).(*note).Text = "child data"
	if err := s.SaveTree(a); err != nil {
		t.Fatalf("SaveTree: %v", err)
	}
	s.FreeDataset(c, false)
	b.Data(tc.foo).(*note).Text = "unsaved"

	if err := s.Load(a); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, o := range []*Object{a, b} {
		if !o.HasFlag(FlagResident) || o.HasFlag(FlagWasResident) {
			t.Fatalf("%s flags = %s, want resident", o, o.Flags())
		}
	}
	if got := b.Data(tc.foo).(*note).Text; got != "child data" {
		t.Fatalf("child dataset = %q, want the archived one", got)
	}
	if c.HasFlag(FlagResident) {
		t.Fatal("child that was paged out came back resident")
	}
}

func TestLoadDataRejectsForeignArchive(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	a.SetFlags(FlagPersistent)
	a.Data(tc.foo).(*note).Text = "foo data"
	if err := s.Save(a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	file, err := s.ArchiveFile(a)
	if err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}

	b := mustAttach(t, s, root, tc.bar, "b")
	b.SetFlags(FlagPersistent)
	b.SetArchivePath(file)
	s.FreeDataset(b, false)
	if err := s.PageIn(b); !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("PageIn: %v, want ErrClassMismatch", err)
	}
	if err := s.LoadData(b); !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("LoadData: %v, want ErrClassMismatch", err)
	}
	if b.HasFlag(FlagResident) {
		t.Fatal("foreign archive made the object resident")
	}
}

func TestLoadObjectMissingArchive(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)

	_, err := s.LoadObject(root, tc.foo, "ghost")
	if !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("LoadObject: %v, want ErrArchiveNotFound", err)
	}
	var ae *ArchiveError
	if !errors.As(err, &ae) {
		t.Fatalf("error %T is not an *ArchiveError", err)
	}
	if len(root.Children()) != 0 || s.Len() != 1 {
		t.Fatal("failed load left a child behind")
	}
}

func TestLoadObjectUnionsExistingChild(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	a.SetFlags(FlagPersistent)
	mustSetVar(t, a, "x", int32(1))
	if err := s.Save(a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mustSetVar(t, a, "x", int32(2))
	mustSetVar(t, a, "local", "kept")
	got, err := s.LoadObject(root, tc.foo, "a")
	if err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if got != a {
		t.Fatal("LoadObject created a second object instead of reusing the child")
	}
	if v, _ := a.Var("x"); v != int32(1) {
		t.Fatalf("x = %v, want archived 1", v)
	}
	if v, _ := a.Var("local"); v != "kept" {
		t.Fatalf("local = %v, want merged table to keep it", v)
	}
	if !a.HasFlag(FlagWasResident) || a.HasFlag(FlagResident) {
		t.Fatalf("flags = %s, want was-resident and not resident", a.Flags())
	}

	if _, err := s.LoadObject(root, tc.bar, "a"); !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("LoadObject with other class: %v, want ErrClassMismatch", err)
	}
}

func TestLoadGenericChildMismatch(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.foo, "a")
	b := mustAttach(t, s, a, tc.bar, "b")
	a.SetFlags(FlagPersistent | FlagSaveChildren)
	b.SetFlags(FlagPersistent)
	if err := s.Save(a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.Delete(b)
	mustAttach(t, s, a, tc.foo, "b").SetFlags(FlagPersistent)
	if err := s.LoadGeneric(a); !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("LoadGeneric: %v, want ErrClassMismatch", err)
	}
}

func TestLoadUnknownDerivedClassFallsBack(t *testing.T) {
	tc := newTestClasses()
	writer := tempSpace(t, tc)
	root := mustRoot(t, writer)
	a := mustAttach(t, writer, root, tc.foo, "a")
	b := mustAttach(t, writer, a, tc.baz, "b")
	a.SetFlags(FlagPersistent | FlagSaveChildren)
	b.SetFlags(FlagPersistent)
	b.Data(tc.bar).(*note).Text = "base part"
	if err := writer.SaveTree(a); err != nil {
		t.Fatalf("SaveTree: %v", err)
	}

	// A reader that knows Bar but not Baz.
	reg := NewRegistry()
	if err := reg.Register(tc.foo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(tc.bar); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reader := NewSpace(WithRegistry(reg), WithStore(writer.Store()))
	r2 := mustRoot(t, reader)
	if _, err := reader.LoadObject(r2, tc.foo, "a"); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	b2, err := reader.Find(r2, "/a/b")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if b2.Class() != tc.bar {
		t.Fatalf("class = %s, want fallback to Bar", b2.Class().Name)
	}
	if err := reader.PageIn(b2); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	if got := b2.Data(tc.bar).(*note).Text; got != "base part" {
		t.Fatalf("base dataset = %q", got)
	}
	if err := reader.Save(b2); !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("Save fallback object: %v, want ErrClassMismatch", err)
	}
}

func TestLoadDataRejectsNewerDatasetVersion(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.bar, "a")
	a.SetFlags(FlagPersistent)
	tc.bar.Version.Major = 3
	err := s.Save(a)
	tc.bar.Version.Major = 2
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	s.FreeDataset(a, false)
	if err := s.LoadData(a); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("LoadData: %v, want ErrBadArchive", err)
	}
	if a.HasFlag(FlagResident) {
		t.Fatal("failed load marked the object resident")
	}
}

func TestLoadDataFailureDiscardsPartialState(t *testing.T) {
	tc := newTestClasses()
	s := tempSpace(t, tc)
	root := mustRoot(t, s)
	a := mustAttach(t, s, root, tc.baz, "a")
	target := mustAttach(t, s, root, tc.foo, "t")
	a.SetFlags(FlagPersistent)
	a.AddDep(target, true)
	a.Data(tc.bar).(*note).Text = "bar"
	if err := s.Save(a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.FreeDataset(a, false)

	load := tc.baz.Load
	tc.baz.Load = func(*Object, *wire.Decoder, Version) error { return errors.New("corrupt") }
	defer func() { tc.baz.Load = load }()

	if err := s.LoadData(a); err == nil {
		t.Fatal("expected load failure")
	}
	if got := a.Data(tc.bar).(*note).Text; got != "" {
		t.Fatalf("partial Bar state kept: %q", got)
	}
	if !a.DependsOn(target) {
		t.Fatal("dependency table dropped by failed load")
	}
}
