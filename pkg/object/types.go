package object

import (
	"fmt"
	"math"
	"strings"
)

// Handle is a stable arena id. Handles are never reused within a Space, so
// a handle whose object was destroyed simply fails to resolve.
type Handle uint64

// Flags describe residency and persistence state of an object.
type Flags uint32

const (
	// FlagResident is set while the dataset is in memory.
	FlagResident Flags = 1 << iota
	// FlagPersistent marks objects that have an archive at all.
	FlagPersistent
	// FlagRemainResident opts the object out of paging: PageOut still
	// saves but keeps the dataset.
	FlagRemainResident
	// FlagNameOnAttach defers naming until the object is attached.
	FlagNameOnAttach
	// FlagSaveChildren writes a table of persistent children into the
	// archive so LoadGeneric can rebuild the subtree.
	FlagSaveChildren
	// FlagPreserveDeps keeps dependency records whose count drops to zero.
	FlagPreserveDeps
	// FlagWasResident records that LoadGeneric discarded a resident
	// dataset.
	FlagWasResident
)

// persistedFlags is the subset that round-trips through archives.
const persistedFlags = FlagPersistent | FlagRemainResident | FlagSaveChildren

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagResident, "resident"},
	{FlagPersistent, "persistent"},
	{FlagRemainResident, "remain-resident"},
	{FlagNameOnAttach, "name-on-attach"},
	{FlagSaveChildren, "save-children"},
	{FlagPreserveDeps, "preserve-deps"},
	{FlagWasResident, "was-resident"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(parts, "|")
}

// Wired is the saturated dependency count. A wired edge is never collected.
const Wired = uint32(math.MaxUint32)

// Dep is one dependency table entry. Exactly one of Target and Path is set:
// Path holds the absolute tree path of a reference read from an archive
// until ResolveDeps replaces it with a live handle.
type Dep struct {
	Target     Handle
	Path       string
	Count      uint32
	Persistent bool
}

// Resolved reports whether the entry references a live handle.
func (d Dep) Resolved() bool {
	return d.Target != 0
}

// Signal names a tree notification.
type Signal uint8

const (
	// SignalAttached is delivered to a parent; the argument is the child.
	SignalAttached Signal = iota + 1
	// SignalChildAttached is delivered to a child; the argument is the parent.
	SignalChildAttached
	// SignalDetached is delivered to the former parent; the argument is the child.
	SignalDetached
	// SignalChildDetached is delivered to the child; the argument is the former parent.
	SignalChildDetached
	// SignalMoved is delivered to a moved child; the argument is the former parent.
	SignalMoved
)

func (s Signal) String() string {
	switch s {
	case SignalAttached:
		return "attached"
	case SignalChildAttached:
		return "child-attached"
	case SignalDetached:
		return "detached"
	case SignalChildDetached:
		return "child-detached"
	case SignalMoved:
		return "moved"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Handler receives a notification. It runs after the tree lock is released.
type Handler func(obj, arg *Object)

// PageOutFunc replaces the default save-and-discard behaviour of PageOut
// when registered on a tree root.
type PageOutFunc func(obj *Object) error

// Version is a format version pair. Majors gate compatibility; minors are
// additive.
type Version struct {
	Major uint16
	Minor uint16
}

// Less reports whether v precedes o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
