// Package checksum computes the content hashes used for staleness detection
// and download verification.
//
// Hashes are BLAKE3-256 rendered as lower-case hex. Comparison is always
// case-insensitive because manifests in the wild carry both cases.
package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// HexLen is the length of a hex encoded digest.
const HexLen = Size * 2

// HashReader hashes everything read from r.
func HashReader(r io.Reader) (string, error) {
	hasher := blake3.New(Size, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashFile hashes the file at path, reading it once.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	sum, err := HashReader(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return sum, nil
}

// HashBytes hashes an in-memory buffer.
func HashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Normalize lower-cases and trims a hex digest.
func Normalize(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// VerifyFile hashes path and reports whether it matches expected. The
// computed hash is returned either way so callers can cache it.
func VerifyFile(path, expected string) (bool, string, error) {
	actual, err := HashFile(path)
	if err != nil {
		return false, "", err
	}
	return Equal(actual, expected), actual, nil
}

// IsHex reports whether s looks like a full digest.
func IsHex(s string) bool {
	s = Normalize(s)
	if len(s) != HexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
