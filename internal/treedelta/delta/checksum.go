package delta

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Checksum is the MD5 digest of a file body, the digest Subversion-style
// editors exchange on apply_textdelta and close_file.
type Checksum []byte

// ChecksumSize is the length in bytes of a Checksum.
const ChecksumSize = md5.Size

// Sum calculates the checksum of an in-memory byte slice.
func Sum(content []byte) Checksum {
	sum := md5.Sum(content)
	return Checksum(sum[:])
}

// ParseChecksum decodes a lowercase hex checksum. The empty string yields a
// nil Checksum, meaning "no checksum supplied".
func ParseChecksum(s string) (Checksum, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid checksum %q: %w", s, err)
	}
	if len(raw) != ChecksumSize {
		return nil, fmt.Errorf("invalid checksum %q: want %d bytes, got %d", s, ChecksumSize, len(raw))
	}
	return Checksum(raw), nil
}

func (c Checksum) String() string {
	return hex.EncodeToString(c)
}

// IsZero reports whether no checksum was supplied.
func (c Checksum) IsZero() bool {
	return len(c) == 0
}

func (c Checksum) Equal(other Checksum) bool {
	return bytes.Equal(c, other)
}

// Verify compares a declared checksum with the actual one. A missing declared
// checksum always verifies.
func Verify(expected, actual Checksum) error {
	if expected.IsZero() || expected.Equal(actual) {
		return nil
	}
	return fmt.Errorf("%w: expected %s, actual %s", ErrChecksumMismatch, expected, actual)
}
