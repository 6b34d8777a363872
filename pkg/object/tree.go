package object

import (
	"fmt"
	"strings"
)

// TreeTx is handed to class Attach and Detach hooks. Its methods assume the
// tree lock is held, which it is for the lifetime of the hook call.
// Notifications queued through it are delivered after the lock is released.
type TreeTx struct {
	s       *Space
	notices []notice
}

// Lookup returns the live object for h, or nil.
func (tx *TreeTx) Lookup(h Handle) *Object {
	return tx.s.objects[h]
}

// Notify queues a notification for target.
func (tx *TreeTx) Notify(target *Object, sig Signal, arg *Object) {
	tx.notices = append(tx.notices, notice{target: target, sig: sig, arg: arg})
}

// UniqueName returns a name not used by any child of parent.
func (tx *TreeTx) UniqueName(parent *Object, prefix string) string {
	return tx.s.uniqueNameLocked(parent, prefix)
}

// Link performs the default insertion of child under parent: naming the
// child if needed, enforcing sibling uniqueness, appending it, and queueing
// the attach notifications. child.parent must already point at parent.
func (tx *TreeTx) Link(parent, child *Object) error {
	s := tx.s
	child.mu.Lock()
	name := child.name
	deferred := child.flags&FlagNameOnAttach != 0
	child.mu.Unlock()

	// A former root brings the name "/", which cannot appear in a path.
	if name == "" || name == rootName || deferred {
		name = s.uniqueNameLocked(parent, child.class.defaultName())
	} else if s.childByNameLocked(parent, name) != nil {
		return fmt.Errorf("attach %q under %q: %w", name, parent.name, ErrNameExists)
	}

	child.mu.Lock()
	child.name = name
	child.flags &^= FlagNameOnAttach
	child.mu.Unlock()

	parent.children = append(parent.children, child.handle)
	tx.Notify(parent, SignalAttached, child)
	tx.Notify(child, SignalChildAttached, parent)
	return nil
}

// Unlink performs the default removal of child from its parent: cancelling
// timers marked cancel-on-detach, removing it from the children list,
// making it the root of its own subtree, and queueing the detach
// notifications.
func (tx *TreeTx) Unlink(child *Object) {
	s := tx.s
	parent := s.objects[child.parent]
	child.cancelDetachTimers()
	if parent != nil {
		parent.children = removeHandle(parent.children, child.handle)
	}
	child.parent = 0
	s.setRootLocked(child, child.handle)
	if parent != nil {
		tx.Notify(parent, SignalDetached, child)
		tx.Notify(child, SignalChildDetached, parent)
	}
}

// Attach inserts child under parent. A nil parent or child panics.
func (s *Space) Attach(parent, child *Object) error {
	if parent == nil || child == nil {
		fatalf("attach with nil parent or child")
	}
	if parent.space != s || child.space != s {
		fatalf("attach across spaces")
	}
	tx := &TreeTx{s: s}
	s.mu.Lock()
	err := s.attachLocked(tx, parent, child)
	s.mu.Unlock()
	s.deliver(tx.notices)
	return err
}

func (s *Space) attachLocked(tx *TreeTx, parent, child *Object) error {
	if child.parent != 0 {
		return fmt.Errorf("attach %q: %w", child.name, ErrAttached)
	}
	if parent.root == child.handle {
		return fmt.Errorf("attach %q under %q: %w", child.name, parent.name, ErrCycle)
	}

	child.parent = parent.handle
	s.setRootLocked(child, parent.root)

	var err error
	if hook := child.class.attachHook(); hook != nil {
		err = hook(tx, parent, child)
	} else {
		err = tx.Link(parent, child)
	}
	if err != nil {
		parent.children = removeHandle(parent.children, child.handle)
		child.parent = 0
		s.setRootLocked(child, child.handle)
		return err
	}
	return nil
}

// Detach removes child from its parent. Detaching an object that has no
// parent panics.
func (s *Space) Detach(child *Object) {
	if child == nil {
		fatalf("detach nil object")
	}
	tx := &TreeTx{s: s}
	s.mu.Lock()
	if child.parent == 0 {
		s.mu.Unlock()
		fatalf("detach %q: not attached", child.Name())
	}
	if hook := child.class.detachHook(); hook != nil {
		hook(tx, child)
	} else {
		tx.Unlink(child)
	}
	s.mu.Unlock()
	s.deliver(tx.notices)
}

// Move reparents child under newParent within the same tree. Moving across
// trees panics; name collisions and cycles are reported before anything
// changes.
func (s *Space) Move(child, newParent *Object) error {
	if child == nil || newParent == nil {
		fatalf("move with nil object")
	}
	tx := &TreeTx{s: s}
	s.mu.Lock()
	err := s.moveLocked(tx, child, newParent)
	s.mu.Unlock()
	s.deliver(tx.notices)
	return err
}

func (s *Space) moveLocked(tx *TreeTx, child, newParent *Object) error {
	if child.parent == 0 {
		fatalf("move %q: not attached", child.name)
	}
	if child.root != newParent.root {
		fatalf("move %q: target %q is in a different tree", child.name, newParent.name)
	}
	for cur := newParent; cur != nil; cur = s.objects[cur.parent] {
		if cur == child {
			return fmt.Errorf("move %q under %q: %w", child.name, newParent.name, ErrCycle)
		}
	}
	oldParent := s.objects[child.parent]
	if oldParent == newParent {
		return nil
	}
	if s.childByNameLocked(newParent, child.name) != nil {
		return fmt.Errorf("move %q under %q: %w", child.name, newParent.name, ErrNameExists)
	}

	oldParent.children = removeHandle(oldParent.children, child.handle)
	child.parent = newParent.handle
	newParent.children = append(newParent.children, child.handle)

	tx.Notify(oldParent, SignalDetached, child)
	tx.Notify(newParent, SignalAttached, child)
	tx.Notify(child, SignalMoved, oldParent)
	return nil
}

// SetName renames o. Attached objects must keep sibling names unique.
func (o *Object) SetName(name string) error {
	clean, err := sanitizeName(name)
	if err != nil {
		return fmt.Errorf("set name %q: %w", name, err)
	}
	s := o.space
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.parent != 0 {
		if other := s.childByNameLocked(s.objects[o.parent], clean); other != nil && other != o {
			return fmt.Errorf("set name %q: %w", clean, ErrNameExists)
		}
	}
	o.mu.Lock()
	o.name = clean
	o.flags &^= FlagNameOnAttach
	o.mu.Unlock()
	return nil
}

// Parent returns the parent of o, or nil for a root or detached object.
func (o *Object) Parent() *Object {
	s := o.space
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.parent == 0 {
		return nil
	}
	return s.objects[o.parent]
}

// Root returns the root of the tree containing o.
func (o *Object) Root() *Object {
	s := o.space
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[o.root]
}

// Children returns a snapshot of the children of o in order.
func (o *Object) Children() []*Object {
	s := o.space
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(o)
}

// Path returns the absolute tree path of o: "/" for a root, otherwise the
// names from below the root down to o, each preceded by "/".
func (o *Object) Path() (string, error) {
	s := o.space
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathLocked(o)
}

func (s *Space) pathLocked(o *Object) (string, error) {
	var segs []string
	size := 0
	for cur := o; cur != nil && cur.parent != 0; cur = s.objects[cur.parent] {
		segs = append(segs, cur.name)
		size += 1 + len(cur.name)
		if size > MaxPathLen {
			return "", fmt.Errorf("path of %q: %w", o.name, ErrPathTooLong)
		}
	}
	if len(segs) == 0 {
		return "/", nil
	}
	var b strings.Builder
	b.Grow(size)
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String(), nil
}

// Find resolves an absolute path against root. "/" names root itself.
func (s *Space) Find(root *Object, path string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(root, path)
}

func (s *Space) findLocked(root *Object, path string) (*Object, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("find %q: %w", path, ErrBadPath)
	}
	cur := root
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			continue
		}
		next := s.childByNameLocked(cur, seg)
		if next == nil {
			return nil, fmt.Errorf("find %q: segment %q: %w", path, seg, ErrNotFound)
		}
		cur = next
	}
	return cur, nil
}

// UniqueName returns a name not used by any child of parent: "<prefix> #0",
// "<prefix> #1", and so on. A prefix that already ends in a space is used
// as given, producing "<prefix>0", "<prefix>1".
func (s *Space) UniqueName(parent *Object, prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uniqueNameLocked(parent, prefix)
}

func (s *Space) uniqueNameLocked(parent *Object, prefix string) string {
	stem := prefix + " #"
	if strings.HasSuffix(prefix, " ") {
		stem = prefix
	}
	taken := make(map[string]struct{}, len(parent.children))
	for _, h := range parent.children {
		if c := s.objects[h]; c != nil {
			taken[c.name] = struct{}{}
		}
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%s%d", stem, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// Walk visits o and its descendants depth-first, parents before children.
// The tree is snapshotted first, so fn may mutate it.
func (s *Space) Walk(o *Object, fn func(*Object) error) error {
	s.mu.Lock()
	all := s.subtreeLocked(o)
	s.mu.Unlock()
	for _, obj := range all {
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) subtreeLocked(o *Object) []*Object {
	var out []*Object
	stack := []*Object{o}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		kids := s.childrenLocked(cur)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

func (s *Space) childrenLocked(o *Object) []*Object {
	out := make([]*Object, 0, len(o.children))
	for _, h := range o.children {
		if c := s.objects[h]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (s *Space) childByNameLocked(parent *Object, name string) *Object {
	for _, h := range parent.children {
		if c := s.objects[h]; c != nil && c.name == name {
			return c
		}
	}
	return nil
}

func (s *Space) setRootLocked(o *Object, root Handle) {
	for _, obj := range s.subtreeLocked(o) {
		obj.root = root
	}
}

func removeHandle(hs []Handle, h Handle) []Handle {
	for i, cur := range hs {
		if cur == h {
			return append(hs[:i], hs[i+1:]...)
		}
	}
	return hs
}
