package object

import (
	"fmt"
	"strings"
	"testing"
)

var benchSink []byte

// benchTree builds a persistent tree of width^depth leaves under root, each
// depending on its previous sibling.
func benchTree(b *testing.B, s *Space, c *Class, width, depth int) *Object {
	b.Helper()
	root, err := s.NewRoot(Base)
	if err != nil {
		b.Fatalf("NewRoot: %v", err)
	}
	level := []*Object{root}
	for d := 0; d < depth; d++ {
		var next []*Object
		for _, parent := range level {
			var prev *Object
			for i := 0; i < width; i++ {
				o, err := s.New(c, fmt.Sprintf("n%d", i))
				if err != nil {
					b.Fatalf("New: %v", err)
				}
				if err := s.Attach(parent, o); err != nil {
					b.Fatalf("Attach: %v", err)
				}
				o.SetFlags(FlagPersistent)
				if prev != nil {
					o.AddDep(prev, true)
				}
				prev = o
				next = append(next, o)
			}
		}
		level = next
	}
	return root
}

func BenchmarkSerialize(b *testing.B) {
	tc := newTestClasses()
	s := NewSpace(WithRegistry(NewRegistry()), WithStore(NewStore(b.TempDir())))
	root := benchTree(b, s, tc.foo, 4, 2)
	leaf := root.Children()[3].Children()[3]
	leaf.Data(tc.foo).(*note).Text = strings.Repeat("x", 4<<10)

	var buf strings.Builder
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := s.Serialize(leaf, &buf); err != nil {
			b.Fatalf("Serialize: %v", err)
		}
	}
	benchSink = []byte(buf.String())
}

func BenchmarkSaveTreeAndLoad(b *testing.B) {
	tc := newTestClasses()
	reg := NewRegistry()
	if err := reg.Register(tc.foo); err != nil {
		b.Fatalf("Register: %v", err)
	}
	s := NewSpace(WithRegistry(reg), WithStore(NewStore(b.TempDir())))
	root := benchTree(b, s, tc.foo, 8, 2)

	b.Run("save", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			if err := s.SaveTree(root); err != nil {
				b.Fatalf("SaveTree: %v", err)
			}
		}
	})

	b.Run("load", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			for _, o := range root.Children() {
				if err := s.LoadGeneric(o); err != nil {
					b.Fatalf("LoadGeneric: %v", err)
				}
			}
			if err := s.ResolveDeps(root); err != nil {
				b.Fatalf("ResolveDeps: %v", err)
			}
		}
	})
}

func BenchmarkInUse(b *testing.B) {
	tc := newTestClasses()
	s := NewSpace()
	root := benchTree(b, s, tc.foo, 16, 2)
	target := root.Children()[0]

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = s.InUse(target)
	}
}
