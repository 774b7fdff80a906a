// Package digest provides the MD5 hashing and folder-archive operations
// the packet protocol relies on for integrity checks (C2).
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

const streamBufferSize = 8 * 1024

// Bytes returns the lowercase-hex MD5 of b.
func Bytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Stream computes the lowercase-hex MD5 of r, reading in fixed 8 KiB
// chunks so the whole input is never held in memory at once.
func Stream(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the lowercase-hex MD5 of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Stream(f)
}

// VerifyFile reports whether the file at path's MD5 matches expected,
// comparing case-insensitively since some senders uppercase their hex.
func VerifyFile(path, expected string) (bool, error) {
	actual, err := File(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}
