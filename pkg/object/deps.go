package object

import (
	"fmt"
	"sort"
)

// AddDep records that o depends on target, creating the edge or bumping its
// count. Persistent edges are written to o's archive; ephemeral ones live
// only in this process. An ephemeral edge is promoted when re-added as
// persistent.
func (o *Object) AddDep(target *Object, persistent bool) {
	o.addDep(target, persistent, false)
}

// WireDep records a dependency whose count is pinned at Wired, so DelDep
// never removes it.
func (o *Object) WireDep(target *Object, persistent bool) {
	o.addDep(target, persistent, true)
}

func (o *Object) addDep(target *Object, persistent, wired bool) {
	if target == nil {
		fatalf("add dependency on nil object")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.deps {
		d := &o.deps[i]
		if d.Target != target.handle {
			continue
		}
		switch {
		case wired:
			d.Count = Wired
		case d.Count != Wired:
			d.Count++
		}
		if persistent && !d.Persistent {
			d.Persistent = true
			o.orderDepsLocked()
		}
		return
	}
	d := Dep{Target: target.handle, Count: 1, Persistent: persistent}
	if wired {
		d.Count = Wired
	}
	o.deps = append(o.deps, d)
	o.orderDepsLocked()
}

// DelDep releases one reference on the edge to target. The edge is removed
// when its count reaches zero unless FlagPreserveDeps is set, in which case
// the record stays with a zero count. Wired edges are left alone.
func (o *Object) DelDep(target *Object) error {
	if target == nil {
		fatalf("delete dependency on nil object")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.deps {
		d := &o.deps[i]
		if d.Target != target.handle {
			continue
		}
		if d.Count == Wired {
			return nil
		}
		if d.Count > 0 {
			d.Count--
		}
		if d.Count == 0 && o.flags&FlagPreserveDeps == 0 {
			o.deps = append(o.deps[:i], o.deps[i+1:]...)
		}
		return nil
	}
	return fmt.Errorf("delete dependency of %q: %w", o.name, ErrNoDep)
}

// Deps returns a snapshot of the dependency table.
func (o *Object) Deps() []Dep {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Dep, len(o.deps))
	copy(out, o.deps)
	return out
}

// DependsOn reports whether o holds a resolved edge to target.
func (o *Object) DependsOn(target *Object) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range o.deps {
		if d.Target == target.handle {
			return true
		}
	}
	return false
}

// EncodeRef maps target to a compact index for dataset hooks: 0 for nil, 1
// for o itself, and 2+i for the i-th dependency table entry.
func (o *Object) EncodeRef(target *Object) (uint32, error) {
	if target == nil {
		return 0, nil
	}
	if target == o {
		return 1, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, d := range o.deps {
		if d.Target == target.handle {
			return uint32(i) + 2, nil
		}
	}
	return 0, fmt.Errorf("encode reference from %q: %w", o.name, ErrNoDep)
}

// FindDep is the inverse of EncodeRef.
func (o *Object) FindDep(index uint32) (*Object, error) {
	switch index {
	case 0:
		return nil, nil
	case 1:
		return o, nil
	}
	o.mu.Lock()
	i := int(index - 2)
	if i >= len(o.deps) {
		n := len(o.deps)
		o.mu.Unlock()
		return nil, fmt.Errorf("find dependency %d of %q (%d entries): %w", index, o.name, n, ErrBadDepIndex)
	}
	d := o.deps[i]
	o.mu.Unlock()
	if !d.Resolved() {
		return nil, fmt.Errorf("find dependency %d (%s): %w", index, d.Path, ErrUnresolvedDep)
	}
	target := o.space.Lookup(d.Target)
	if target == nil {
		return nil, fmt.Errorf("find dependency %d: target destroyed: %w", index, ErrUnresolvedDep)
	}
	return target, nil
}

// orderDepsLocked keeps persistent entries ahead of ephemeral ones so the
// written table is a prefix of the in-memory table and reference indices
// survive a round trip.
func (o *Object) orderDepsLocked() {
	sort.SliceStable(o.deps, func(i, j int) bool {
		return o.deps[i].Persistent && !o.deps[j].Persistent
	})
}

// ResolveDeps replaces every path-only dependency in the tree containing
// root with a live handle, looking paths up from the tree's root. It stops
// at the first path that does not resolve; entries already resolved stay
// resolved.
func (s *Space) ResolveDeps(root *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	treeRoot := s.objects[root.root]
	if treeRoot == nil {
		treeRoot = root
	}
	for _, obj := range s.subtreeLocked(treeRoot) {
		if err := s.resolveObjectLocked(treeRoot, obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) resolveObjectLocked(treeRoot, obj *Object) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	for i := 0; i < len(obj.deps); {
		d := &obj.deps[i]
		if d.Resolved() {
			i++
			continue
		}
		target, err := s.findLocked(treeRoot, d.Path)
		if err != nil {
			return fmt.Errorf("resolve dependency %q of %q: %w: %v", d.Path, obj.name, ErrUnresolvedDep, err)
		}
		if j := indexOfTarget(obj.deps, target.handle); j >= 0 {
			merged := &obj.deps[j]
			merged.Count = addCounts(merged.Count, d.Count)
			merged.Persistent = merged.Persistent || d.Persistent
			obj.deps = append(obj.deps[:i], obj.deps[i+1:]...)
			continue
		}
		d.Target = target.handle
		d.Path = ""
		i++
	}
	obj.orderDepsLocked()
	return nil
}

func indexOfTarget(deps []Dep, h Handle) int {
	for i, d := range deps {
		if d.Target == h {
			return i
		}
	}
	return -1
}

func addCounts(a, b uint32) uint32 {
	if a == Wired || b == Wired || a+b < a {
		return Wired
	}
	return a + b
}
