package object

import (
	"strings"
	"sync"
	"unicode"

	"github.com/odvcencio/burrow/pkg/vars"
)

const (
	// MaxNameLen bounds object names, in bytes.
	MaxNameLen = 255
	// MaxPathLen bounds absolute tree paths, in bytes.
	MaxPathLen = 4096
)

// Object is a node of the namespace tree.
//
// Structural fields (parent, root, children) are guarded by the Space tree
// lock. name is written only while holding both the tree lock and mu, so
// either lock is enough to read it. The remaining mutable fields are
// guarded by mu. io serializes archive passes on this object; dataset hooks
// run under io alone, so they are free to call the locking accessors.
type Object struct {
	space  *Space
	handle Handle
	class  *Class
	chain  []*Class

	parent   Handle
	root     Handle
	children []Handle

	mu          sync.Mutex
	name        string
	flags       Flags
	deps        []Dep
	vars        *vars.Table
	archivePath string
	data        map[*Class]any
	handlers    map[Signal][]Handler
	pageOut     PageOutFunc
	timers      map[uint64]*Timer
	timerSeq    uint64
	// archived is the ancestry read from the archive when it names a class
	// more derived than class.
	archived  string
	destroyed bool

	io sync.Mutex
}

func (o *Object) Handle() Handle { return o.handle }
func (o *Object) Class() *Class { return o.class }
func (o *Object) Space() *Space { return o.space }

// Ancestry returns the class chain of o, root ancestor first.
func (o *Object) Ancestry() []*Class {
	out := make([]*Class, len(o.chain))
	copy(out, o.chain)
	return out
}

// Name returns the object's name; empty while the object is embryonic.
func (o *Object) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

// Flags returns the current flag set.
func (o *Object) Flags() Flags {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flags
}

// HasFlag reports whether every bit of f is set.
func (o *Object) HasFlag(f Flags) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flags&f == f
}

// SetFlags sets the bits of f.
func (o *Object) SetFlags(f Flags) {
	o.mu.Lock()
	o.flags |= f
	o.mu.Unlock()
}

// ClearFlags clears the bits of f.
func (o *Object) ClearFlags(f Flags) {
	o.mu.Lock()
	o.flags &^= f
	o.mu.Unlock()
}

// ArchivePath returns the location override, if any.
func (o *Object) ArchivePath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.archivePath
}

// SetArchivePath overrides the computed archive location. An empty path
// restores the default.
func (o *Object) SetArchivePath(path string) {
	o.mu.Lock()
	o.archivePath = path
	o.mu.Unlock()
}

// Data returns the dataset slot owned by class level c.
func (o *Object) Data(c *Class) any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data[c]
}

// SetData replaces the dataset slot owned by class level c. A nil value
// clears the slot.
func (o *Object) SetData(c *Class, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v == nil {
		delete(o.data, c)
		return
	}
	if o.data == nil {
		o.data = make(map[*Class]any)
	}
	o.data[c] = v
}

// SetVar stores a variable value.
func (o *Object) SetVar(name string, v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Set(name, v)
}

// BindVar makes name an indirect variable backed by ptr.
func (o *Object) BindVar(name string, ptr any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Bind(name, ptr)
}

// Var returns the value of a variable.
func (o *Object) Var(name string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Get(name)
}

// DelVar removes a variable and reports whether it existed.
func (o *Object) DelVar(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Delete(name)
}

// VarNames returns variable names in table order.
func (o *Object) VarNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vars.Names()
}

// EqualVars reports whether o and other carry equal persistable variables.
func (o *Object) EqualVars(other *Object) bool {
	a, b := o, other
	if a.handle > b.handle {
		a, b = b, a
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a == b {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return a.vars.Equal(b.vars)
}

// Connect registers fn for notifications of kind sig delivered to o.
func (o *Object) Connect(sig Signal, fn Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handlers == nil {
		o.handlers = make(map[Signal][]Handler)
	}
	o.handlers[sig] = append(o.handlers[sig], fn)
}

// SetPageOutHandler installs fn as the page-out delegate. Only the handler
// on a tree's root is consulted.
func (o *Object) SetPageOutHandler(fn PageOutFunc) {
	o.mu.Lock()
	o.pageOut = fn
	o.mu.Unlock()
}

func (o *Object) pageOutHandler() PageOutFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pageOut
}

func (o *Object) String() string {
	p, err := o.Path()
	if err != nil {
		return o.Name()
	}
	return p
}

// sanitizeName substitutes characters that cannot appear in a path segment
// and enforces the length bound.
func sanitizeName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	clean := strings.Map(func(r rune) rune {
		if r == '/' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	if len(clean) > MaxNameLen {
		return "", ErrNameTooLong
	}
	// A child under the root would share the root's archive file.
	if strings.EqualFold(clean, RootArchiveName) {
		return "", ErrInvalidName
	}
	return clean, nil
}
