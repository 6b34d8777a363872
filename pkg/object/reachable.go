package object

// InUse reports whether any object in o's tree holds a dependency edge on o
// or on one of its descendants. An object's edges to itself do not count.
// Unresolved edges count when their path names the object.
func (s *Space) InUse(o *Object) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUseLocked(o)
}

func (s *Space) inUseLocked(o *Object) bool {
	byHandle, byPath := s.incomingLocked(s.treeRootLocked(o))

	stack := []*Object{o}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if hasOther(byHandle[cur.handle], cur.handle) {
			return true
		}
		if len(byPath) > 0 {
			if p, err := s.pathLocked(cur); err == nil && hasOther(byPath[p], cur.handle) {
				return true
			}
		}
		stack = append(stack, s.childrenLocked(cur)...)
	}
	return false
}

// Dependents returns the objects of o's tree that hold an edge on o, in
// tree order.
func (s *Space) Dependents(o *Object) []*Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHandle, byPath := s.incomingLocked(s.treeRootLocked(o))
	users := byHandle[o.handle]
	if p, err := s.pathLocked(o); err == nil {
		users = append(users, byPath[p]...)
	}
	seen := make(map[Handle]struct{}, len(users))
	var out []*Object
	for _, h := range users {
		if _, ok := seen[h]; ok || h == o.handle {
			continue
		}
		seen[h] = struct{}{}
		if u := s.objects[h]; u != nil {
			out = append(out, u)
		}
	}
	return out
}

// incomingLocked indexes every dependency edge of the tree under root by
// target: resolved edges by handle, unresolved ones by path. Values are
// the handles of the objects holding the edge.
func (s *Space) incomingLocked(root *Object) (map[Handle][]Handle, map[string][]Handle) {
	byHandle := make(map[Handle][]Handle)
	byPath := make(map[string][]Handle)
	for _, obj := range s.subtreeLocked(root) {
		obj.mu.Lock()
		for _, d := range obj.deps {
			if d.Resolved() {
				byHandle[d.Target] = append(byHandle[d.Target], obj.handle)
			} else {
				byPath[d.Path] = append(byPath[d.Path], obj.handle)
			}
		}
		obj.mu.Unlock()
	}
	return byHandle, byPath
}

func (s *Space) treeRootLocked(o *Object) *Object {
	if r := s.objects[o.root]; r != nil {
		return r
	}
	return o
}

func hasOther(hs []Handle, self Handle) bool {
	for _, h := range hs {
		if h != self {
			return true
		}
	}
	return false
}
