package blob

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// DigestSize is the length in bytes of a content digest. Digests are
// BLAKE3 output truncated to 20 bytes; the hex form is 40 characters.
const DigestSize = 20

// Digest is the content key for stored bytes. The zero value marks an
// empty stream and is never inserted into a DigestIndex.
type Digest [DigestSize]byte

// IsZero reports whether d is the empty-stream marker.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the canonical lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 40-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidDigest, len(raw), DigestSize)
	}
	copy(d[:], raw)
	return d, nil
}

// DigestBytes computes the digest of a byte slice.
func DigestBytes(p []byte) Digest {
	h := blake3.New()
	h.Write(p)
	return sumDigest(h)
}

// DigestReader computes the digest of everything readable from r and
// returns it together with the number of bytes consumed.
func DigestReader(r io.Reader) (Digest, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, err
	}
	return sumDigest(h), n, nil
}

// DigestFile computes the digest and size of the file at path.
func DigestFile(path string) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, err
	}
	defer f.Close()
	return DigestReader(f)
}

// RandomDigest returns a random placeholder digest. Staged records carry
// a placeholder until commit computes the real content digest, keeping
// the index uniqueness invariant intact in the meantime.
func RandomDigest() Digest {
	var d Digest
	if _, err := rand.Read(d[:]); err != nil {
		panic("blob: reading random digest: " + err.Error())
	}
	return d
}

func sumDigest(h *blake3.Hasher) Digest {
	var d Digest
	if _, err := io.ReadFull(h.Digest(), d[:]); err != nil {
		panic("blob: BLAKE3 digest read failed: " + err.Error())
	}
	return d
}
