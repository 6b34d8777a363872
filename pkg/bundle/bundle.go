// Package bundle packs object archives into a single verifiable stream for
// transfer or backup.
//
// A bundle is
//
//	"BRBN" version:uint16 count:uint32
//	count × (headerLen:uint32 header:CBOR stored-bytes)
//	trailer: 32-byte keyed BLAKE3 of everything before it
//
// Each entry header carries the keyed BLAKE3 of the uncompressed archive,
// so entries are verified individually as well as through the trailer.
package bundle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/odvcencio/burrow/pkg/wire"
)

// Version is the bundle format version written by Writer.
const Version = 1

// MaxEntrySize bounds the stored size of one entry.
const MaxEntrySize = 1 << 30

// maxHeaderSize bounds one CBOR entry header.
const maxHeaderSize = 64 << 10

var bundleTag = wire.Tag{'B', 'R', 'B', 'N'}

var (
	ErrBadBundle = errors.New("malformed bundle")
	ErrChecksum  = errors.New("bundle checksum mismatch")
)

// Sum is a keyed BLAKE3 digest.
type Sum [32]byte

func (s Sum) String() string { return hex.EncodeToString(s[:]) }

// Domain keys keep entry sums and trailer sums from colliding.
var (
	entryDomainKey = [32]byte{
		'b', 'u', 'r', 'r', 'o', 'w', '.', 'b', 'u', 'n', 'd', 'l', 'e', '.',
		'e', 'n', 't', 'r', 'y',
	}
	trailerDomainKey = [32]byte{
		'b', 'u', 'r', 'r', 'o', 'w', '.', 'b', 'u', 'n', 'd', 'l', 'e', '.',
		't', 'r', 'a', 'i', 'l', 'e', 'r',
	}
)

// SumEntry returns the entry-domain hash of an uncompressed archive.
func SumEntry(data []byte) Sum {
	h := newKeyed(entryDomainKey)
	_, _ = h.Write(data)
	var s Sum
	copy(s[:], h.Sum(nil))
	return s
}

func newKeyed(key [32]byte) *blake3.Hasher {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("bundle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

// EntryHeader describes one archive in a bundle.
type EntryHeader struct {
	// Path is the slash-separated archive name relative to a store
	// directory.
	Path     string `cbor:"path"`
	Ancestry string `cbor:"ancestry,omitempty"`
	// Digest is the archive's MD5+MD4+SHA-1 fingerprint in hex.
	Digest      string      `cbor:"digest,omitempty"`
	Sum         Sum         `cbor:"sum"`
	Size        uint64      `cbor:"size"`
	Stored      uint64      `cbor:"stored"`
	Compression Compression `cbor:"compression"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bundle: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bundle: CBOR decoder initialization failed: " + err.Error())
	}
}

// cleanPath validates an entry path: relative, slash-separated, no "..".
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: entry path %q", ErrBadBundle, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry path %q", ErrBadBundle, p)
	}
	return clean, nil
}

type countedWriter struct {
	w io.Writer
	n uint64
}

func (cw *countedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

// Writer streams a bundle. The entry count is fixed up front and checked
// by Finish.
type Writer struct {
	out      io.Writer
	counter  *countedWriter
	hasher   *blake3.Hasher
	hashedW  io.Writer
	comp     Compression
	expected uint32
	written  uint32
	finished bool
}

// NewWriter writes the bundle header for count entries compressed with comp.
func NewWriter(out io.Writer, count uint32, comp Compression) (*Writer, error) {
	if _, err := ParseCompression(comp.String()); err != nil {
		return nil, err
	}
	counter := &countedWriter{w: out}
	hasher := newKeyed(trailerDomainKey)
	bw := &Writer{
		out:      out,
		counter:  counter,
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		comp:     comp,
		expected: count,
	}

	e := wire.NewEncoder()
	e.Tag(bundleTag)
	e.Uint16(Version)
	e.Uint32(count)
	if _, err := bw.hashedW.Write(e.Output()); err != nil {
		return nil, fmt.Errorf("write bundle header: %w", err)
	}
	return bw, nil
}

// Offset returns the number of bytes written so far.
func (bw *Writer) Offset() uint64 {
	return bw.counter.n
}

// Add appends one archive. Size, Sum, Stored and Compression in h are
// filled in from data.
func (bw *Writer) Add(h EntryHeader, data []byte) error {
	if bw.finished {
		return fmt.Errorf("bundle writer already finished")
	}
	if bw.written >= bw.expected {
		return fmt.Errorf("bundle entry count exceeded: expected %d", bw.expected)
	}
	p, err := cleanPath(h.Path)
	if err != nil {
		return err
	}
	h.Path = p

	stored, used, err := compress(data, bw.comp)
	if err != nil {
		return fmt.Errorf("compress %s: %w", h.Path, err)
	}
	if len(stored) > MaxEntrySize {
		return fmt.Errorf("entry %s: %d bytes exceeds limit", h.Path, len(stored))
	}
	h.Sum = SumEntry(data)
	h.Size = uint64(len(data))
	h.Stored = uint64(len(stored))
	h.Compression = used

	meta, err := encMode.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode entry header %s: %w", h.Path, err)
	}
	e := wire.NewEncoder()
	e.Uint32(uint32(len(meta)))
	if _, err := bw.hashedW.Write(e.Output()); err != nil {
		return fmt.Errorf("write entry header length: %w", err)
	}
	if _, err := bw.hashedW.Write(meta); err != nil {
		return fmt.Errorf("write entry header: %w", err)
	}
	if _, err := bw.hashedW.Write(stored); err != nil {
		return fmt.Errorf("write entry data: %w", err)
	}
	bw.written++
	return nil
}

// Finish checks the entry count and writes the trailer, returning it.
func (bw *Writer) Finish() (Sum, error) {
	var sum Sum
	if bw.finished {
		return sum, fmt.Errorf("bundle writer already finished")
	}
	if bw.written != bw.expected {
		return sum, fmt.Errorf("bundle entry count mismatch: wrote %d, expected %d", bw.written, bw.expected)
	}
	copy(sum[:], bw.hasher.Sum(nil))
	if _, err := bw.out.Write(sum[:]); err != nil {
		return sum, fmt.Errorf("write bundle trailer: %w", err)
	}
	bw.finished = true
	return sum, nil
}

// Entry is one decoded, verified archive.
type Entry struct {
	Header EntryHeader
	Data   []byte
}

// Reader decodes a bundle entry by entry. Next returns io.EOF once every
// entry has been read and the trailer verified.
type Reader struct {
	raw    io.Reader
	hasher *blake3.Hasher
	d      *wire.Decoder
	count  uint32
	read   uint32
	done   bool
}

// NewReader reads and checks the bundle header.
func NewReader(r io.Reader) (*Reader, error) {
	hasher := newKeyed(trailerDomainKey)
	br := &Reader{
		raw:    r,
		hasher: hasher,
		d:      wire.NewDecoder(io.TeeReader(r, hasher)),
	}
	if err := br.d.Expect(bundleTag); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBundle, err)
	}
	version := br.d.Uint16()
	br.count = br.d.Uint32()
	if err := br.d.Err(); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadBundle, err)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadBundle, version)
	}
	return br, nil
}

// Len returns the number of entries the bundle declares.
func (br *Reader) Len() int {
	return int(br.count)
}

// Next returns the next entry with its data decompressed and checked
// against the entry sum.
func (br *Reader) Next() (*Entry, error) {
	if br.done {
		return nil, io.EOF
	}
	if br.read == br.count {
		if err := br.verifyTrailer(); err != nil {
			return nil, err
		}
		br.done = true
		return nil, io.EOF
	}

	n := br.d.Uint32()
	if err := br.d.Err(); err != nil {
		return nil, fmt.Errorf("%w: entry %d: %w", ErrBadBundle, br.read, err)
	}
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: entry %d: header length %d", ErrBadBundle, br.read, n)
	}
	meta := make([]byte, n)
	if _, err := io.ReadFull(br.d, meta); err != nil {
		return nil, fmt.Errorf("%w: entry %d header: %w", ErrBadBundle, br.read, err)
	}
	var h EntryHeader
	if err := decMode.Unmarshal(meta, &h); err != nil {
		return nil, fmt.Errorf("%w: entry %d header: %w", ErrBadBundle, br.read, err)
	}
	if _, err := cleanPath(h.Path); err != nil {
		return nil, err
	}
	if h.Stored > MaxEntrySize || h.Size > MaxEntrySize {
		return nil, fmt.Errorf("%w: entry %s: size %d/%d exceeds limit", ErrBadBundle, h.Path, h.Stored, h.Size)
	}

	stored := make([]byte, h.Stored)
	if _, err := io.ReadFull(br.d, stored); err != nil {
		return nil, fmt.Errorf("%w: entry %s data: %w", ErrBadBundle, h.Path, err)
	}
	data, err := decompress(stored, h.Compression, int(h.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %w", ErrBadBundle, h.Path, err)
	}
	if got := SumEntry(data); got != h.Sum {
		return nil, fmt.Errorf("%w: entry %s: sum %s, header says %s", ErrChecksum, h.Path, got, h.Sum)
	}
	br.read++
	return &Entry{Header: h, Data: data}, nil
}

func (br *Reader) verifyTrailer() error {
	var want Sum
	copy(want[:], br.hasher.Sum(nil))
	var got Sum
	if _, err := io.ReadFull(br.raw, got[:]); err != nil {
		return fmt.Errorf("%w: trailer: %w", ErrBadBundle, err)
	}
	if !bytes.Equal(got[:], want[:]) {
		return fmt.Errorf("%w: trailer %s, computed %s", ErrChecksum, got, want)
	}
	return nil
}
