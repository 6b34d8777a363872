package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RootArchiveName is the file stem used for a tree root, whose path "/" has
// no segments to name it by.
const RootArchiveName = "@root"

// Store locates archive files. Reads scan LoadPath in order and fall back
// to SavePath; writes always go under SavePath. Hits are cached per
// relative location.
type Store struct {
	LoadPath []string
	SavePath string
	// Backup renames an existing archive to "<name>.bak" before it is
	// replaced.
	Backup bool

	mu    sync.Mutex
	cache map[string]string
}

// NewStore creates a Store that saves under savePath and searches loadPath
// before it.
func NewStore(savePath string, loadPath ...string) *Store {
	return &Store{
		LoadPath: loadPath,
		SavePath: savePath,
		cache:    make(map[string]string),
	}
}

// ParseLoadPath splits a list of directories joined by the OS list
// separator, dropping empty elements.
func ParseLoadPath(list string) []string {
	var out []string
	for _, dir := range filepath.SplitList(list) {
		if dir = strings.TrimSpace(dir); dir != "" {
			out = append(out, dir)
		}
	}
	return out
}

// Locate returns the first existing file for rel, searching LoadPath and
// then SavePath.
func (st *Store) Locate(rel string) (string, error) {
	st.mu.Lock()
	if p, ok := st.cache[rel]; ok {
		st.mu.Unlock()
		return p, nil
	}
	st.mu.Unlock()

	for _, dir := range st.Dirs() {
		p := filepath.Join(dir, rel)
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		st.remember(rel, p)
		return p, nil
	}
	return "", &ArchiveError{Op: "locate", Path: rel, Err: ErrArchiveNotFound}
}

// Dirs returns the directories reads search, in search order: LoadPath,
// then SavePath. Empty entries are dropped.
func (st *Store) Dirs() []string {
	var out []string
	for _, dir := range append(append([]string(nil), st.LoadPath...), st.SavePath) {
		if dir != "" {
			out = append(out, dir)
		}
	}
	return out
}

// SaveLocation returns the file a write of rel goes to.
func (st *Store) SaveLocation(rel string) string {
	return filepath.Join(st.SavePath, rel)
}

// Read returns the contents of the archive located for rel.
func (st *Store) Read(rel string) ([]byte, string, error) {
	p, err := st.Locate(rel)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			st.Forget(rel)
			return nil, "", &ArchiveError{Op: "read", Path: p, Err: ErrArchiveNotFound}
		}
		return nil, "", &ArchiveError{Op: "read", Path: p, Err: err}
	}
	return raw, p, nil
}

// Write stores raw as the archive for rel under SavePath and returns the
// file written. Later lookups of rel find the new file.
func (st *Store) Write(rel string, raw []byte) (string, error) {
	dest := st.SaveLocation(rel)
	if err := WriteFile(dest, raw, st.Backup); err != nil {
		return "", err
	}
	st.remember(rel, dest)
	return dest, nil
}

// Forget drops the cached location of rel.
func (st *Store) Forget(rel string) {
	st.mu.Lock()
	delete(st.cache, rel)
	st.mu.Unlock()
}

func (st *Store) remember(rel, p string) {
	st.mu.Lock()
	if st.cache == nil {
		st.cache = make(map[string]string)
	}
	st.cache[rel] = p
	st.mu.Unlock()
}

// WriteFile atomically replaces dest with raw. Data is written to a temp
// file in the same directory and renamed into place; with backup set, an
// existing dest is first renamed to dest+".bak".
func WriteFile(dest string, raw []byte, backup bool) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ArchiveError{Op: "write mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &ArchiveError{Op: "write tmpfile", Path: dest, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ArchiveError{Op: "write", Path: dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ArchiveError{Op: "write close", Path: dest, Err: err}
	}

	if backup {
		if err := os.Rename(dest, dest+".bak"); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmpName)
			return &ArchiveError{Op: "write backup", Path: dest, Err: err}
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return &ArchiveError{Op: "write rename", Path: dest, Err: err}
	}
	return nil
}

// archiveLocation computes where o is archived. With an override set the
// override is used verbatim and direct is true; otherwise rel is relative
// to the store's directories.
func (s *Space) archiveLocation(o *Object) (rel string, direct bool, err error) {
	if p := o.ArchivePath(); p != "" {
		return p, true, nil
	}
	s.mu.Lock()
	treePath, err := s.pathLocked(o)
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}

	o.mu.Lock()
	leaf := o.class.Name
	if o.archived != "" {
		leaf = o.archived[strings.LastIndexByte(o.archived, ':')+1:]
	}
	o.mu.Unlock()

	stem := RootArchiveName
	if treePath != "/" {
		stem = filepath.FromSlash(strings.TrimPrefix(treePath, "/"))
	}
	rel = stem + "." + strings.ToLower(leaf)
	if d := o.class.dir(); d != "" {
		rel = filepath.Join(d, rel)
	}
	return rel, false, nil
}

// ArchiveFile returns the file o would be loaded from, or, when no archive
// exists yet, the file a save would create.
func (s *Space) ArchiveFile(o *Object) (string, error) {
	p, err := s.locateArchive(o)
	if !errors.Is(err, ErrArchiveNotFound) {
		return p, err
	}
	rel, direct, err := s.archiveLocation(o)
	if err != nil || direct {
		return rel, err
	}
	return s.store.SaveLocation(rel), nil
}

// ArchiveName returns the store-relative name of o's archive, or the base
// name of its override file.
func (s *Space) ArchiveName(o *Object) (string, error) {
	rel, direct, err := s.archiveLocation(o)
	if err != nil {
		return "", err
	}
	if direct {
		return filepath.Base(rel), nil
	}
	return rel, nil
}

// locateArchive returns the existing archive file of o.
func (s *Space) locateArchive(o *Object) (string, error) {
	rel, direct, err := s.archiveLocation(o)
	if err != nil {
		return "", err
	}
	if !direct {
		return s.store.Locate(rel)
	}
	if _, err := os.Stat(rel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &ArchiveError{Op: "locate", Path: rel, Err: ErrArchiveNotFound}
		}
		return "", &ArchiveError{Op: "locate", Path: rel, Err: err}
	}
	return rel, nil
}

func (s *Space) forgetArchive(o *Object) {
	if rel, direct, err := s.archiveLocation(o); err == nil && !direct {
		s.store.Forget(rel)
	}
}

func (s *Space) readArchive(o *Object) ([]byte, string, error) {
	rel, direct, err := s.archiveLocation(o)
	if err != nil {
		return nil, "", err
	}
	if !direct {
		return s.store.Read(rel)
	}
	raw, err := os.ReadFile(rel)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", &ArchiveError{Op: "read", Path: rel, Err: ErrArchiveNotFound}
	}
	if err != nil {
		return nil, "", &ArchiveError{Op: "read", Path: rel, Err: err}
	}
	return raw, rel, nil
}

// ReadArchive returns the raw archive of o and the file it came from.
func (s *Space) ReadArchive(o *Object) ([]byte, string, error) {
	return s.readArchive(o)
}

func (s *Space) writeArchive(o *Object, raw []byte) (string, error) {
	rel, direct, err := s.archiveLocation(o)
	if err != nil {
		return "", err
	}
	if direct {
		return rel, WriteFile(rel, raw, s.store.Backup)
	}
	return s.store.Write(rel, raw)
}

// sameContents stream-compares two readers, stopping at the first
// differing chunk.
func sameContents(a, b io.Reader) (bool, error) {
	const chunk = 32 << 10
	bufA := make([]byte, chunk)
	bufB := make([]byte, chunk)
	for {
		na, errA := io.ReadFull(a, bufA)
		nb, errB := io.ReadFull(b, bufB)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("compare: %w", errA)
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("compare: %w", errB)
		}
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA != nil || errB != nil {
			return errA != nil && errB != nil, nil
		}
	}
}
