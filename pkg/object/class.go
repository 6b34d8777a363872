package object

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/burrow/pkg/wire"
)

// Class describes one level of an object's single-inheritance hierarchy.
// Hooks are optional; generic code walks the ancestry chain and runs each
// level's hook in order (Init, Load root-to-leaf; Reinit, Destroy
// leaf-to-root).
type Class struct {
	Name    string
	Super   *Class
	Version Version
	// Module names the library providing the class. Written to archives
	// for diagnostics only.
	Module string
	// DefaultName is the prefix for generated names. Inherited when empty.
	DefaultName string
	// Dir is the archive subdirectory for objects of this kind. Inherited
	// when empty.
	Dir string

	Init    func(o *Object) error
	Reinit  func(o *Object)
	Destroy func(o *Object)
	Load    func(o *Object, d *wire.Decoder, stored Version) error
	Save    func(o *Object, e *wire.Encoder) error

	// Attach and Detach replace the default tree insertion and removal.
	// They run with the tree lock held and must use tx for any structural
	// work. The most derived level that sets one wins.
	Attach func(tx *TreeTx, parent, child *Object) error
	Detach func(tx *TreeTx, child *Object)
}

// Base is the conventional root ancestor. Every Registry knows it.
var Base = &Class{
	Name:        "Object",
	Version:     Version{Major: 1},
	DefaultName: "Object",
}

// Chain returns the ancestry of c, root ancestor first.
func (c *Class) Chain() []*Class {
	var rev []*Class
	for cur := c; cur != nil; cur = cur.Super {
		rev = append(rev, cur)
	}
	out := make([]*Class, len(rev))
	for i, cl := range rev {
		out[len(rev)-1-i] = cl
	}
	return out
}

// Ancestry returns the colon-joined class names, root first, e.g.
// "Object:Drawable:Layer".
func (c *Class) Ancestry() string {
	chain := c.Chain()
	names := make([]string, len(chain))
	for i, cl := range chain {
		names[i] = cl.Name
	}
	return strings.Join(names, ":")
}

func (c *Class) defaultName() string {
	for cur := c; cur != nil; cur = cur.Super {
		if cur.DefaultName != "" {
			return cur.DefaultName
		}
	}
	return c.Name
}

func (c *Class) dir() string {
	for cur := c; cur != nil; cur = cur.Super {
		if cur.Dir != "" {
			return cur.Dir
		}
	}
	return ""
}

func (c *Class) attachHook() func(*TreeTx, *Object, *Object) error {
	for cur := c; cur != nil; cur = cur.Super {
		if cur.Attach != nil {
			return cur.Attach
		}
	}
	return nil
}

func (c *Class) detachHook() func(*TreeTx, *Object) {
	for cur := c; cur != nil; cur = cur.Super {
		if cur.Detach != nil {
			return cur.Detach
		}
	}
	return nil
}

func runInit(o *Object) error {
	for _, c := range o.chain {
		if c.Init == nil {
			continue
		}
		if err := c.Init(o); err != nil {
			return fmt.Errorf("init %s: %w", c.Name, err)
		}
	}
	return nil
}

func runReinit(o *Object) {
	for i := len(o.chain) - 1; i >= 0; i-- {
		if c := o.chain[i]; c.Reinit != nil {
			c.Reinit(o)
		}
	}
}

func runDestroy(o *Object) {
	for i := len(o.chain) - 1; i >= 0; i-- {
		if c := o.chain[i]; c.Destroy != nil {
			c.Destroy(o)
		}
	}
}

// Registry maps ancestry strings to classes so archives can be
// instantiated. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewRegistry returns a registry that already knows Base.
func NewRegistry() *Registry {
	r := &Registry{classes: make(map[string]*Class)}
	_ = r.Register(Base)
	return r
}

// Register records c and every ancestor of c. Registering a different class
// under an ancestry string that is already taken fails.
func (r *Registry) Register(c *Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := c.Chain()
	for i := range chain {
		key := chain[i].Ancestry()
		if prev, ok := r.classes[key]; ok {
			if prev != chain[i] {
				return fmt.Errorf("register %s: ancestry %q already registered", c.Name, key)
			}
			continue
		}
		r.classes[key] = chain[i]
	}
	return nil
}

// Lookup returns the class registered under exactly ancestry.
func (r *Registry) Lookup(ancestry string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[ancestry]
	return c, ok
}

// Resolve returns the class for ancestry, falling back to the longest
// registered prefix when the archive was written by a more derived class
// this process does not know. exact reports whether no fallback happened.
func (r *Registry) Resolve(ancestry string) (c *Class, exact bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := ancestry
	for {
		if c, ok := r.classes[key]; ok {
			return c, key == ancestry, nil
		}
		i := strings.LastIndexByte(key, ':')
		if i < 0 {
			return nil, false, fmt.Errorf("resolve class %q: %w", ancestry, ErrUnknownClass)
		}
		key = key[:i]
	}
}

// Classes returns the registered ancestry strings in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.classes))
	for k := range r.classes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
