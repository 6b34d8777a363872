package object

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Changed reports whether serializing o now would produce an archive that
// differs from the one on disk. Objects that are not persistent or not
// resident are unchanged; a persistent resident object without an archive
// is changed.
func (s *Space) Changed(o *Object) (bool, error) {
	flags := o.Flags()
	if flags&FlagPersistent == 0 || flags&FlagResident == 0 {
		return false, nil
	}
	archive, err := s.locateArchive(o)
	if errors.Is(err, ErrArchiveNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	current, err := os.Open(archive)
	if errors.Is(err, os.ErrNotExist) {
		s.forgetArchive(o)
		return true, nil
	}
	if err != nil {
		return false, &ArchiveError{Op: "changed", Path: archive, Err: err}
	}
	defer current.Close()

	scratch, err := os.CreateTemp(filepath.Dir(archive), ".scratch-*")
	if err != nil {
		return false, &ArchiveError{Op: "changed scratch", Path: archive, Err: err}
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	if err := s.Serialize(o, scratch); err != nil {
		return false, err
	}
	if _, err := scratch.Seek(0, 0); err != nil {
		return false, fmt.Errorf("changed %s: %w", o, err)
	}
	same, err := sameContents(current, scratch)
	if err != nil {
		return false, &ArchiveError{Op: "changed", Path: archive, Err: err}
	}
	return !same, nil
}
