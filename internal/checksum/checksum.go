// Package checksum compares a downloaded payload against its checksum file.
//
// Checksum files hold md5sum-style lines, "<hex digest>  <filename>". The
// digest length selects the algorithm: 32 hex characters for MD5 and 64 for
// SHA-256.
package checksum

import (
	"bufio"
	"crypto/md5" //nolint:gosec // the order service publishes MD5 digests
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

var (
	ErrMismatch  = errors.New("checksum: digest mismatch")
	ErrMalformed = errors.New("checksum: malformed checksum file")
)

// Extensions lists the suffixes checksum files are published with.
var Extensions = []string{".md5", ".sha256"}

// IsChecksumFile reports whether name looks like a checksum file.
func IsChecksumFile(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Companions returns the names a checksum file for payload may have, with
// the archive suffix removed first: "scene.tar.gz" gives "scene.md5" and
// "scene.sha256".
func Companions(payload, archiveSuffix string) []string {
	stem := strings.TrimSuffix(payload, archiveSuffix)
	names := make([]string, len(Extensions))
	for i, ext := range Extensions {
		names[i] = stem + ext
	}
	return names
}

// MismatchError reports the digests that differed.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %s: expected %s, got %s", ErrMismatch, e.Path, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// Compare hashes payloadPath and compares it to the digest stored in
// checksumPath.
func Compare(payloadPath, checksumPath string) error {
	expected, err := ReadExpected(checksumPath)
	if err != nil {
		return err
	}

	h, err := hashFor(expected)
	if err != nil {
		return fmt.Errorf("%s: %w", checksumPath, err)
	}

	actual, err := Sum(payloadPath, h)
	if err != nil {
		return err
	}

	if actual != expected {
		return &MismatchError{Path: payloadPath, Expected: expected, Actual: actual}
	}
	return nil
}

// ReadExpected returns the lower-cased digest from the first non-empty line
// of a checksum file.
func ReadExpected(checksumPath string) (string, error) {
	f, err := os.Open(checksumPath)
	if err != nil {
		return "", fmt.Errorf("open checksum file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		digest := strings.ToLower(fields[0])
		if _, err := hex.DecodeString(digest); err != nil {
			return "", fmt.Errorf("%w: %s: %q is not hex", ErrMalformed, checksumPath, fields[0])
		}
		return digest, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read checksum file: %w", err)
	}

	return "", fmt.Errorf("%w: %s is empty", ErrMalformed, checksumPath)
}

// Sum streams path through h and returns the hex digest.
func Sum(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFor(digest string) (hash.Hash, error) {
	switch len(digest) {
	case md5.Size * 2:
		return md5.New(), nil //nolint:gosec
	case sha256.Size * 2:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported digest length %d", ErrMalformed, len(digest))
	}
}
