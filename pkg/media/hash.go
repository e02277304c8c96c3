package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// hashBufferSize bounds memory used while hashing, whatever the input size.
const hashBufferSize = 64 * 1024

// Digest is the result of hashing a stream.
type Digest struct {
	// Hex is the lowercase hex SHA-256 digest
	Hex string

	// Size is the number of bytes hashed
	Size int64
}

// HashReader streams r through SHA-256 with a bounded buffer.
func HashReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Hex: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, NotFound("file not found", path)
		}
		return Digest{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	d, err := HashReader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two hex digests ignoring case and surrounding spaces.
func EqualHash(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
