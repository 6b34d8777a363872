package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/odvcencio/burrow/pkg/object"
)

// Options controls how bundles are written.
type Options struct {
	Compression Compression
	Logger      *zap.Logger
}

func (opts Options) logger() *zap.Logger {
	if opts.Logger == nil {
		return zap.NewNop()
	}
	return opts.Logger
}

// Archive is one archive file found by Scan.
type Archive struct {
	// Path is slash-separated and relative to the scanned directory.
	Path   string
	File   string
	Header *object.Header
}

// Scan finds every archive under dir, sorted by path. Hidden entries and
// backups are skipped, as are files that do not parse as archives.
func Scan(dir string, log *zap.Logger) ([]Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var out []Archive
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.HasSuffix(name, ".bak") {
			return nil
		}
		h, err := readHeaderFile(p)
		if errors.Is(err, object.ErrBadArchive) {
			log.Debug("skipping non-archive", zap.String("file", p), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, Archive{Path: filepath.ToSlash(rel), File: p, Header: h})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func readHeaderFile(p string) (*object.Header, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return object.ReadHeader(f)
}

type pending struct {
	header EntryHeader
	data   []byte
}

func newPending(rel string, data []byte) (pending, error) {
	h, err := object.ReadHeader(bytes.NewReader(data))
	if err != nil {
		return pending{}, fmt.Errorf("%s: %w", rel, err)
	}
	d, err := object.DigestReader(bytes.NewReader(data))
	if err != nil {
		return pending{}, err
	}
	return pending{
		header: EntryHeader{Path: rel, Ancestry: h.Ancestry, Digest: d.String()},
		data:   data,
	}, nil
}

func writeAll(w io.Writer, entries []pending, opts Options) error {
	bw, err := NewWriter(w, uint32(len(entries)), opts.Compression)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := bw.Add(e.header, e.data); err != nil {
			return err
		}
	}
	sum, err := bw.Finish()
	if err != nil {
		return err
	}
	opts.logger().Debug("wrote bundle",
		zap.Int("entries", len(entries)),
		zap.Uint64("bytes", bw.Offset()),
		zap.Stringer("sum", sum))
	return nil
}

// ExportTree bundles the archive of every persistent object under root.
// Objects that have never been saved are skipped. Archives kept at an
// override path are bundled under their base name.
func ExportTree(s *object.Space, root *object.Object, w io.Writer, opts Options) (int, error) {
	var entries []pending
	seen := make(map[string]struct{})
	err := s.Walk(root, func(o *object.Object) error {
		if !o.HasFlag(object.FlagPersistent) {
			return nil
		}
		raw, _, err := s.ReadArchive(o)
		if errors.Is(err, object.ErrArchiveNotFound) {
			opts.logger().Debug("no archive to export", zap.Stringer("object", o))
			return nil
		}
		if err != nil {
			return err
		}
		name, err := s.ArchiveName(o)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(name)
		if _, dup := seen[rel]; dup {
			return fmt.Errorf("export %s: duplicate archive name %s", o, rel)
		}
		seen[rel] = struct{}{}
		p, err := newPending(rel, raw)
		if err != nil {
			return err
		}
		entries = append(entries, p)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("export tree: %w", err)
	}
	if err := writeAll(w, entries, opts); err != nil {
		return 0, fmt.Errorf("export tree: %w", err)
	}
	return len(entries), nil
}

// PackDir bundles every archive Scan finds under dir.
func PackDir(dir string, w io.Writer, opts Options) (int, error) {
	found, err := Scan(dir, opts.Logger)
	if err != nil {
		return 0, err
	}
	entries := make([]pending, 0, len(found))
	for _, a := range found {
		raw, err := os.ReadFile(a.File)
		if err != nil {
			return 0, fmt.Errorf("pack %s: %w", a.File, err)
		}
		p, err := newPending(a.Path, raw)
		if err != nil {
			return 0, fmt.Errorf("pack: %w", err)
		}
		entries = append(entries, p)
	}
	if err := writeAll(w, entries, opts); err != nil {
		return 0, fmt.Errorf("pack %s: %w", dir, err)
	}
	return len(entries), nil
}

// checkEntry confirms that an entry still parses as an archive of the
// recorded class and, when a digest was recorded, that it matches.
func checkEntry(e *Entry) error {
	h, err := object.ReadHeader(bytes.NewReader(e.Data))
	if err != nil {
		return fmt.Errorf("entry %s: %w", e.Header.Path, err)
	}
	if e.Header.Ancestry != "" && h.Ancestry != e.Header.Ancestry {
		return fmt.Errorf("%w: entry %s: archive class %q, header says %q",
			ErrBadBundle, e.Header.Path, h.Ancestry, e.Header.Ancestry)
	}
	if e.Header.Digest == "" {
		return nil
	}
	d, err := object.DigestReader(bytes.NewReader(e.Data))
	if err != nil {
		return err
	}
	if d.String() != e.Header.Digest {
		return fmt.Errorf("%w: entry %s: digest mismatch", ErrChecksum, e.Header.Path)
	}
	return nil
}

// Unpack writes every entry of the bundle into dir and returns the count.
// Entries are checked before anything is written, so a corrupt bundle
// leaves dir untouched.
func Unpack(r io.Reader, dir string, opts Options) (int, error) {
	entries, err := readAll(r)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		dest := filepath.Join(dir, filepath.FromSlash(e.Header.Path))
		if err := object.WriteFile(dest, e.Data, false); err != nil {
			return 0, fmt.Errorf("unpack %s: %w", e.Header.Path, err)
		}
		opts.logger().Debug("unpacked", zap.String("file", dest), zap.Int("bytes", len(e.Data)))
	}
	return len(entries), nil
}

// Verify reads the whole bundle, checking every entry and the trailer.
func Verify(r io.Reader) (int, error) {
	entries, err := readAll(r)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// List returns the entry headers of a verified bundle.
func List(r io.Reader) ([]EntryHeader, error) {
	entries, err := readAll(r)
	if err != nil {
		return nil, err
	}
	out := make([]EntryHeader, len(entries))
	for i, e := range entries {
		out[i] = e.Header
	}
	return out, nil
}

func readAll(r io.Reader) ([]*Entry, error) {
	br, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, min(br.Len(), 1024))
	for {
		e, err := br.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if err := checkEntry(e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}
