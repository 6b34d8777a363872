package object

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/md4"
)

// Digest fingerprints an archive with three independent hashes computed in
// one pass.
type Digest struct {
	MD5  [md5.Size]byte
	MD4  [md4.Size]byte
	SHA1 [sha1.Size]byte
}

// String returns the MD5, MD4 and SHA-1 hex strings concatenated.
func (d Digest) String() string {
	return hex.EncodeToString(d.MD5[:]) + hex.EncodeToString(d.MD4[:]) + hex.EncodeToString(d.SHA1[:])
}

// DigestReader hashes everything r yields.
func DigestReader(r io.Reader) (Digest, error) {
	h5, h4, h1 := md5.New(), md4.New(), sha1.New()
	if _, err := io.Copy(io.MultiWriter(h5, h4, h1), r); err != nil {
		return Digest{}, fmt.Errorf("digest: %w", err)
	}
	var d Digest
	h5.Sum(d.MD5[:0])
	h4.Sum(d.MD4[:0])
	h1.Sum(d.SHA1[:0])
	return d, nil
}

// DigestFile hashes the file at path.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()
	return DigestReader(f)
}

// Digest hashes the archive o would be loaded from.
func (s *Space) Digest(o *Object) (Digest, error) {
	file, err := s.locateArchive(o)
	if err != nil {
		return Digest{}, err
	}
	return DigestFile(file)
}
