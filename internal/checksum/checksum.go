// Package checksum computes the content hashes used for tamper detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text returns the hex-encoded SHA-256 digest of a string. Used for item
// content hashes over the substantive fields.
func Text(s string) string {
	return Sum([]byte(s))
}

// Reader streams r through SHA-256 and returns the hex digest. Used for
// evidence files, which can be disk images too large to hold in memory.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
