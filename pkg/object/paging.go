package object

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PageIn makes the dataset of o resident. Non-persistent objects and
// objects without an archive simply become resident.
func (s *Space) PageIn(o *Object) error {
	if !o.HasFlag(FlagPersistent) {
		o.mu.Lock()
		o.flags = o.flags&^FlagWasResident | FlagResident
		o.mu.Unlock()
		return nil
	}

	o.io.Lock()
	defer o.io.Unlock()
	if o.HasFlag(FlagResident) {
		return nil
	}
	raw, file, err := s.readArchive(o)
	if errors.Is(err, ErrArchiveNotFound) {
		o.mu.Lock()
		o.flags = o.flags&^FlagWasResident | FlagResident
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.loadDataLocked(o, raw); err != nil {
		return &ArchiveError{Op: "page in", Path: file, Err: err}
	}
	s.log.Debug("paged in", zap.Stringer("object", o), zap.String("file", file))
	return nil
}

// PageOut saves o and discards its dataset. It refuses while anything in
// the tree depends on o or its descendants. A page-out handler set on the
// tree root replaces the default behaviour.
func (s *Space) PageOut(o *Object) error {
	flags := o.Flags()
	if flags&FlagPersistent == 0 {
		return nil
	}
	if flags&FlagResident == 0 {
		return fmt.Errorf("page out %s: %w", o, ErrNotResident)
	}
	if s.InUse(o) {
		s.log.Warn("page out refused", zap.Stringer("object", o))
		return fmt.Errorf("page out %s: %w", o, ErrInUse)
	}
	if fn := o.Root().pageOutHandler(); fn != nil {
		return fn(o)
	}
	if err := s.Save(o); err != nil {
		return err
	}
	if flags&FlagRemainResident == 0 {
		s.FreeDataset(o, false)
	}
	s.log.Debug("paged out", zap.Stringer("object", o), zap.Bool("kept", flags&FlagRemainResident != 0))
	return nil
}

// FreeDataset runs the reinit hooks of o, leaf class first, and marks it
// non-resident. Dependency records survive unless clearDeps is set, in
// which case the table is emptied afterwards.
func (s *Space) FreeDataset(o *Object, clearDeps bool) {
	o.io.Lock()
	defer o.io.Unlock()
	s.freeDatasetLocked(o, clearDeps)
}

// freeDatasetLocked is FreeDataset for callers holding o.io.
func (s *Space) freeDatasetLocked(o *Object, clearDeps bool) {
	o.mu.Lock()
	preset := o.flags&FlagPreserveDeps != 0
	if !clearDeps {
		o.flags |= FlagPreserveDeps
	}
	o.mu.Unlock()

	runReinit(o)

	o.mu.Lock()
	if !preset {
		o.flags &^= FlagPreserveDeps
	}
	if clearDeps {
		o.deps = nil
	}
	o.flags &^= FlagResident
	o.mu.Unlock()
}
