package object

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("object not found")
	ErrBadPath         = errors.New("path is not absolute")
	ErrPathTooLong     = errors.New("path exceeds maximum length")
	ErrNameTooLong     = errors.New("name exceeds maximum length")
	ErrInvalidName     = errors.New("invalid object name")
	ErrNameExists      = errors.New("name already used by a sibling")
	ErrAttached        = errors.New("object already attached")
	ErrCycle           = errors.New("object would become its own ancestor")
	ErrNoDep           = errors.New("no such dependency")
	ErrUnresolvedDep   = errors.New("unresolved dependency")
	ErrBadDepIndex     = errors.New("dependency index out of range")
	ErrArchiveNotFound = errors.New("archive not found")
	ErrBadArchive      = errors.New("malformed archive")
	ErrUnknownClass    = errors.New("unknown class")
	ErrClassMismatch   = errors.New("class mismatch")
	ErrNotResident     = errors.New("dataset not resident")
	ErrInUse           = errors.New("object in use")
)

// ArchiveError records a failed archive operation and the file involved.
type ArchiveError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// fatalf reports API misuse. These conditions leave no consistent state to
// return to, so they panic instead of returning an error.
func fatalf(format string, args ...any) {
	panic(fmt.Sprintf("object: "+format, args...))
}
