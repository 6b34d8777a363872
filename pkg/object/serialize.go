package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/odvcencio/burrow/pkg/vars"
	"github.com/odvcencio/burrow/pkg/wire"
)

// Archive format version written by this package. Archives with a newer
// major are rejected; newer minors only append fields.
const (
	ArchiveMajor = 1
	ArchiveMinor = 0
)

var (
	archiveTag = wire.Tag{'B', 'R', 'O', 'B'}
	datasetTag = wire.Tag{'B', 'R', 'D', 'S'}
)

// Header is the generic part of an archive.
type Header struct {
	Major, Minor uint16
	Ancestry     string
	Module       string
	DataOffset   uint32
	Flags        Flags
	// Deps holds the absolute tree paths of persistent dependencies in
	// table order.
	Deps     []string
	Vars     *vars.Table
	Children []ChildEntry
	Dataset  DatasetHeader
}

// ChildEntry names a persistent child recorded by a FlagSaveChildren
// archive.
type ChildEntry struct {
	Name     string
	Ancestry string
}

// DatasetHeader carries the per-level format versions of the dataset, root
// ancestor first.
type DatasetHeader struct {
	Levels []Version
}

// ReadHeader parses the generic part and dataset header of an archive. It
// needs no registry and runs no class hooks.
func ReadHeader(r io.Reader) (*Header, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return decodeHeader(raw)
}

func decodeHeader(raw []byte) (*Header, error) {
	d := wire.NewDecoder(bytes.NewReader(raw))
	if err := d.Expect(archiveTag); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	h := &Header{Major: d.Uint16(), Minor: d.Uint16()}
	if d.Err() == nil && h.Major > ArchiveMajor {
		return nil, fmt.Errorf("%w: version %d.%d newer than %d.%d", ErrBadArchive, h.Major, h.Minor, ArchiveMajor, ArchiveMinor)
	}
	h.Ancestry = d.Text()
	h.Module = d.Text()
	h.DataOffset = d.Uint32()
	h.Flags = Flags(d.Uint32()) & persistedFlags

	n := d.Uint32()
	if uint64(n) > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: dependency count %d", ErrBadArchive, n)
	}
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		h.Deps = append(h.Deps, d.Text())
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}

	vt, err := vars.Decode(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	h.Vars = vt

	if h.Flags&FlagSaveChildren != 0 {
		n := d.Uint32()
		if uint64(n) > uint64(len(raw)) {
			return nil, fmt.Errorf("%w: child count %d", ErrBadArchive, n)
		}
		for i := uint32(0); i < n && d.Err() == nil; i++ {
			h.Children = append(h.Children, ChildEntry{Name: d.Text(), Ancestry: d.Text()})
		}
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	if h.Ancestry == "" {
		return nil, fmt.Errorf("%w: empty ancestry", ErrBadArchive)
	}
	if int64(h.DataOffset) < d.Offset() || int(h.DataOffset) > len(raw) {
		return nil, fmt.Errorf("%w: dataset offset %d out of range", ErrBadArchive, h.DataOffset)
	}

	ds, err := decodeDatasetHeader(wire.NewDecoder(bytes.NewReader(raw[h.DataOffset:])))
	if err != nil {
		return nil, err
	}
	h.Dataset = ds
	return h, nil
}

func decodeDatasetHeader(d *wire.Decoder) (DatasetHeader, error) {
	var ds DatasetHeader
	if err := d.Expect(datasetTag); err != nil {
		return ds, fmt.Errorf("%w: dataset: %w", ErrBadArchive, err)
	}
	n := d.Uint16()
	for i := uint16(0); i < n && d.Err() == nil; i++ {
		ds.Levels = append(ds.Levels, Version{Major: d.Uint16(), Minor: d.Uint16()})
	}
	if err := d.Err(); err != nil {
		return ds, fmt.Errorf("%w: dataset: %w", ErrBadArchive, err)
	}
	return ds, nil
}

// ancestryOf returns the ancestry string o is archived under.
func ancestryOf(o *Object) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ancestryLocked()
}

func (o *Object) ancestryLocked() string {
	if o.archived != "" {
		return o.archived
	}
	return o.class.Ancestry()
}

// Serialize writes the archive of o to w. The dataset part comes from the
// class Save hooks, root ancestor first.
func (s *Space) Serialize(o *Object, w io.Writer) error {
	o.io.Lock()
	raw, err := s.encodeLocked(o, nil)
	o.io.Unlock()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("serialize %s: %w", o, err)
	}
	return nil
}

// encodeLocked builds the archive of o; the caller holds o.io. When
// dataset is non-nil it is written verbatim in place of running the Save
// hooks.
func (s *Space) encodeLocked(o *Object, dataset []byte) ([]byte, error) {
	e := wire.NewEncoder()
	e.Tag(archiveTag)
	e.Uint16(ArchiveMajor)
	e.Uint16(ArchiveMinor)

	s.mu.Lock()
	o.mu.Lock()
	offsetAt, err := s.encodeGenericLocked(o, e)
	o.mu.Unlock()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.PatchUint32(offsetAt, uint32(e.Len()))
	if dataset != nil {
		_, _ = e.Write(dataset)
		return e.Output(), e.Err()
	}

	e.Tag(datasetTag)
	e.Uint16(uint16(len(o.chain)))
	for _, c := range o.chain {
		e.Uint16(c.Version.Major)
		e.Uint16(c.Version.Minor)
	}
	for _, c := range o.chain {
		if c.Save == nil {
			continue
		}
		if err := c.Save(o, e); err != nil {
			return nil, fmt.Errorf("save %s: %w", c.Name, err)
		}
	}
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", o.Name(), err)
	}
	return e.Output(), nil
}

// encodeGenericLocked writes everything between the version and the
// dataset header and returns the position of the dataset offset field. The
// caller holds the tree lock and o.mu.
func (s *Space) encodeGenericLocked(o *Object, e *wire.Encoder) (int, error) {
	if o.archived != "" {
		return 0, fmt.Errorf("serialize %q: loaded as %s but archived as %s: %w",
			o.name, o.class.Ancestry(), o.archived, ErrClassMismatch)
	}
	e.Text(o.class.Ancestry())
	e.Text(o.class.Module)
	offsetAt := e.Len()
	e.Uint32(0)
	e.Uint32(uint32(o.flags & persistedFlags))

	var paths []string
	for _, d := range o.deps {
		if !d.Persistent {
			continue
		}
		if !d.Resolved() {
			paths = append(paths, d.Path)
			continue
		}
		target := s.objects[d.Target]
		if target == nil {
			return 0, fmt.Errorf("serialize %q: dependency target destroyed: %w", o.name, ErrUnresolvedDep)
		}
		p, err := s.pathLocked(target)
		if err != nil {
			return 0, fmt.Errorf("serialize %q: %w", o.name, err)
		}
		paths = append(paths, p)
	}
	e.Uint32(uint32(len(paths)))
	for _, p := range paths {
		e.Text(p)
	}

	o.vars.Encode(e)

	if o.flags&FlagSaveChildren != 0 {
		var entries []ChildEntry
		for _, c := range s.childrenLocked(o) {
			c.mu.Lock()
			if c.flags&FlagPersistent != 0 {
				entries = append(entries, ChildEntry{Name: c.name, Ancestry: c.ancestryLocked()})
			}
			c.mu.Unlock()
		}
		e.Uint32(uint32(len(entries)))
		for _, ce := range entries {
			e.Text(ce.Name)
			e.Text(ce.Ancestry)
		}
	}
	return offsetAt, e.Err()
}

// Save writes the archive of o to the store. A non-resident object keeps
// the dataset bytes of its existing archive.
func (s *Space) Save(o *Object) error {
	var dataset []byte
	if !o.HasFlag(FlagResident) {
		raw, _, err := s.readArchive(o)
		switch {
		case err == nil:
			h, err := decodeHeader(raw)
			if err != nil {
				return fmt.Errorf("save %s: existing archive: %w", o, err)
			}
			dataset = raw[h.DataOffset:]
		case !errors.Is(err, ErrArchiveNotFound):
			return err
		}
	}

	o.io.Lock()
	raw, err := s.encodeLocked(o, dataset)
	o.io.Unlock()
	if err != nil {
		return err
	}
	file, err := s.writeArchive(o, raw)
	if err != nil {
		return err
	}
	s.log.Debug("saved archive",
		zap.Stringer("object", o),
		zap.String("file", file),
		zap.Int("bytes", len(raw)))
	return nil
}

// SaveTree saves o and every persistent object below it.
func (s *Space) SaveTree(o *Object) error {
	return s.Walk(o, func(obj *Object) error {
		if obj != o && !obj.HasFlag(FlagPersistent) {
			return nil
		}
		return s.Save(obj)
	})
}

// LoadGeneric reads the generic part of o's archive into o and rebuilds
// the recorded children below it. Dependencies come back unresolved; see
// ResolveDeps.
func (s *Space) LoadGeneric(o *Object) error {
	raw, file, err := s.readArchive(o)
	if err != nil {
		return err
	}
	return s.loadGeneric(o, raw, file)
}

func (s *Space) loadGeneric(o *Object, raw []byte, file string) error {
	h, err := decodeHeader(raw)
	if err != nil {
		return &ArchiveError{Op: "load", Path: file, Err: err}
	}
	o.io.Lock()
	err = s.applyHeaderLocked(o, h)
	o.io.Unlock()
	if err != nil {
		return &ArchiveError{Op: "load", Path: file, Err: err}
	}
	s.log.Debug("loaded archive",
		zap.Stringer("object", o),
		zap.String("file", file),
		zap.Int("deps", len(h.Deps)),
		zap.Int("children", len(h.Children)))
	return s.loadChildren(o, h.Children)
}

// applyHeaderLocked installs h into o; the caller holds o.io.
func (s *Space) applyHeaderLocked(o *Object, h *Header) error {
	if got := ancestryOf(o); got != h.Ancestry {
		return fmt.Errorf("archive holds %s, object is %s: %w", h.Ancestry, got, ErrClassMismatch)
	}
	if o.HasFlag(FlagResident) {
		s.freeDatasetLocked(o, false)
		o.SetFlags(FlagWasResident)
	}

	deps := make([]Dep, len(h.Deps))
	for i, p := range h.Deps {
		deps[i] = Dep{Path: p, Persistent: true}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.flags = o.flags&^persistedFlags | h.Flags
	o.deps = deps
	return o.vars.Merge(h.Vars)
}

func (s *Space) loadChildren(o *Object, entries []ChildEntry) error {
	for _, ce := range entries {
		child, err := s.unionChild(o, ce)
		if err != nil {
			return err
		}
		raw, file, err := s.readArchive(child)
		if errors.Is(err, ErrArchiveNotFound) {
			s.log.Debug("child archive missing", zap.Stringer("object", child))
			continue
		}
		if err != nil {
			return err
		}
		if err := s.loadGeneric(child, raw, file); err != nil {
			return err
		}
	}
	return nil
}

// unionChild returns the child of parent named by ce, creating and
// attaching it when absent. An existing child must match the recorded
// ancestry and be persistent.
func (s *Space) unionChild(parent *Object, ce ChildEntry) (*Object, error) {
	s.mu.Lock()
	existing := s.childByNameLocked(parent, ce.Name)
	s.mu.Unlock()
	if existing != nil {
		existing.mu.Lock()
		anc, persistent := existing.ancestryLocked(), existing.flags&FlagPersistent != 0
		existing.mu.Unlock()
		if anc != ce.Ancestry || !persistent {
			return nil, fmt.Errorf("load child %q: have %s (persistent=%t), archive records %s: %w",
				ce.Name, anc, persistent, ce.Ancestry, ErrClassMismatch)
		}
		return existing, nil
	}

	c, exact, err := s.registry.Resolve(ce.Ancestry)
	if err != nil {
		return nil, fmt.Errorf("load child %q: %w", ce.Name, err)
	}
	child, err := s.newObject(c, ce.Name, FlagPersistent)
	if err != nil {
		return nil, err
	}
	if !exact {
		s.log.Warn("archived class not registered, using ancestor",
			zap.String("archived", ce.Ancestry),
			zap.String("class", c.Ancestry()))
		child.mu.Lock()
		child.archived = ce.Ancestry
		child.mu.Unlock()
	}
	if err := s.Attach(parent, child); err != nil {
		s.Destroy(child)
		return nil, err
	}
	return child, nil
}

// LoadObject loads the archived object of class c named name under parent.
// An existing child of that name is reused when its class matches. A child
// created here is deleted again when no archive exists.
func (s *Space) LoadObject(parent *Object, c *Class, name string) (*Object, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	s.mu.Lock()
	existing := s.childByNameLocked(parent, clean)
	s.mu.Unlock()
	if existing != nil {
		if existing.class != c {
			return nil, fmt.Errorf("load %q: existing object is %s, want %s: %w",
				clean, existing.class.Ancestry(), c.Ancestry(), ErrClassMismatch)
		}
		existing.SetFlags(FlagPersistent)
		return existing, s.LoadGeneric(existing)
	}

	o, err := s.newObject(c, clean, FlagPersistent)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(parent, o); err != nil {
		s.Destroy(o)
		return nil, err
	}
	if err := s.LoadGeneric(o); err != nil {
		if errors.Is(err, ErrArchiveNotFound) {
			s.Delete(o)
			return nil, err
		}
		return o, err
	}
	return o, nil
}

// LoadData reads the dataset of o from its archive by running each class
// level's Load hook, root ancestor first, with the version that level was
// written at. On failure partially loaded state is discarded.
func (s *Space) LoadData(o *Object) error {
	raw, file, err := s.readArchive(o)
	if err != nil {
		return err
	}
	o.io.Lock()
	defer o.io.Unlock()
	if err := s.loadDataLocked(o, raw); err != nil {
		return &ArchiveError{Op: "load data", Path: file, Err: err}
	}
	return nil
}

func (s *Space) loadDataLocked(o *Object, raw []byte) error {
	h, err := decodeHeader(raw)
	if err != nil {
		return err
	}
	if got := ancestryOf(o); got != h.Ancestry {
		return fmt.Errorf("archive holds %s, object is %s: %w", h.Ancestry, got, ErrClassMismatch)
	}
	for i, c := range o.chain {
		if i < len(h.Dataset.Levels) && h.Dataset.Levels[i].Major > c.Version.Major {
			return fmt.Errorf("%s dataset version %s newer than %s: %w",
				c.Name, h.Dataset.Levels[i], c.Version, ErrBadArchive)
		}
	}

	d := wire.NewDecoder(bytes.NewReader(raw[h.DataOffset:]))
	if _, err := decodeDatasetHeader(d); err != nil {
		return err
	}
	for i, c := range o.chain {
		if i >= len(h.Dataset.Levels) {
			break
		}
		if c.Load == nil {
			continue
		}
		if err := c.Load(o, d, h.Dataset.Levels[i]); err != nil {
			s.freeDatasetLocked(o, false)
			return fmt.Errorf("load %s: %w", c.Name, err)
		}
		if err := d.Err(); err != nil {
			s.freeDatasetLocked(o, false)
			return fmt.Errorf("load %s: %w: %w", c.Name, ErrBadArchive, err)
		}
	}
	o.mu.Lock()
	o.flags = o.flags&^FlagWasResident | FlagResident
	o.mu.Unlock()
	return nil
}

// Load reloads o from its archive: the generic part and subtree, then
// dependency resolution across o's tree, then the dataset of every object
// in the subtree that was resident before.
func (s *Space) Load(o *Object) error {
	if err := s.LoadGeneric(o); err != nil {
		return err
	}
	if err := s.ResolveDeps(o); err != nil {
		return err
	}
	return s.Walk(o, func(obj *Object) error {
		if !obj.HasFlag(FlagWasResident) {
			return nil
		}
		return s.PageIn(obj)
	})
}

