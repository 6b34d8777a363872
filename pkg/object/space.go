package object

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/odvcencio/burrow/pkg/vars"
)

// Space owns every object of one or more trees. It is the context threaded
// through all operations: the object arena, the tree lock, the class
// registry, the archive store and the logger.
type Space struct {
	mu      sync.Mutex
	objects map[Handle]*Object
	next    Handle

	registry *Registry
	store    *Store
	log      *zap.Logger
}

// Option configures a Space.
type Option func(*Space)

// WithRegistry sets the class registry used to instantiate archived objects.
func WithRegistry(r *Registry) Option {
	return func(s *Space) { s.registry = r }
}

// WithStore sets the archive store.
func WithStore(st *Store) Option {
	return func(s *Space) { s.store = st }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Space) { s.log = l }
}

// NewSpace returns an empty Space.
func NewSpace(opts ...Option) *Space {
	s := &Space{objects: make(map[Handle]*Object)}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.store == nil {
		s.store = NewStore(".")
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

func (s *Space) Registry() *Registry { return s.registry }
func (s *Space) Store() *Store { return s.store }
func (s *Space) Logger() *zap.Logger { return s.log }

// New creates a detached, resident, non-persistent object of class c and
// runs the class init hooks. An empty name leaves the object embryonic; it
// is named when attached.
func (s *Space) New(c *Class, name string) (*Object, error) {
	return s.newObject(c, name, FlagResident)
}

// rootName is the name of every tree root. It is never a valid child name.
const rootName = "/"

// NewRoot creates a tree root named "/".
func (s *Space) NewRoot(c *Class) (*Object, error) {
	o, err := s.newObject(c, "", FlagResident)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	o.mu.Lock()
	o.name = rootName
	o.mu.Unlock()
	s.mu.Unlock()
	return o, nil
}

func (s *Space) newObject(c *Class, name string, flags Flags) (*Object, error) {
	if c == nil {
		fatalf("new object with nil class")
	}
	if name != "" {
		clean, err := sanitizeName(name)
		if err != nil {
			return nil, fmt.Errorf("new %s %q: %w", c.Name, name, err)
		}
		name = clean
	}

	s.mu.Lock()
	s.next++
	o := &Object{
		space:  s,
		handle: s.next,
		class:  c,
		chain:  c.Chain(),
		name:   name,
		flags:  flags,
		vars:   vars.New(),
	}
	o.root = o.handle
	s.objects[o.handle] = o
	s.mu.Unlock()

	if err := runInit(o); err != nil {
		s.mu.Lock()
		delete(s.objects, o.handle)
		s.mu.Unlock()
		return nil, fmt.Errorf("new %s: %w", c.Name, err)
	}
	return o, nil
}

// Lookup returns the live object for h, or nil.
func (s *Space) Lookup(h Handle) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[h]
}

// Len returns the number of live objects.
func (s *Space) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Delete detaches o if attached and destroys it.
func (s *Space) Delete(o *Object) {
	s.mu.Lock()
	attached := o.parent != 0
	s.mu.Unlock()
	if attached {
		s.Detach(o)
	}
	s.Destroy(o)
}

// Destroy tears o down: children are deleted first, the dataset is freed if
// resident, destroy hooks run leaf-to-root, and o leaves the arena.
// Destroying an attached object panics.
func (s *Space) Destroy(o *Object) {
	s.mu.Lock()
	if o.parent != 0 {
		s.mu.Unlock()
		fatalf("destroy %q: still attached", o.Name())
	}
	kids := s.childrenLocked(o)
	s.mu.Unlock()

	for _, k := range kids {
		s.Delete(k)
	}

	o.io.Lock()
	if o.HasFlag(FlagResident) {
		runReinit(o)
	}
	runDestroy(o)

	o.mu.Lock()
	for _, t := range o.timers {
		t.t.Stop()
	}
	o.timers = nil
	o.deps = nil
	o.vars = vars.New()
	o.data = nil
	o.handlers = nil
	o.flags &^= FlagResident
	o.destroyed = true
	o.mu.Unlock()
	o.io.Unlock()

	s.mu.Lock()
	delete(s.objects, o.handle)
	s.mu.Unlock()
}

type notice struct {
	target *Object
	sig    Signal
	arg    *Object
}

// deliver runs handlers for queued notices in order. Callers must not hold
// the tree lock.
func (s *Space) deliver(ns []notice) {
	for _, n := range ns {
		n.target.mu.Lock()
		hs := append([]Handler(nil), n.target.handlers[n.sig]...)
		n.target.mu.Unlock()
		for _, h := range hs {
			h(n.target, n.arg)
		}
	}
}
