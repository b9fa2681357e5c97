// Package khash implements the kernel's hash primitives (C2): SHA-256
// over canonical bytes, hex encoding, and constant-time comparison for
// any result that feeds a security decision.
package khash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"

	"integritykernel.dev/kernel/canon"
	"integritykernel.dev/kernel/kernelerr"
)

// HexPattern matches a well-formed lowercase hex SHA-256 digest.
var HexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// SumHex returns the lowercase hex SHA-256 digest of b.
func SumHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentHash canonicalizes v and returns its hex SHA-256 digest. This
// is the single function every artifact hasher and the event store
// route through, so canonicalization and hashing can never drift apart.
func ContentHash(v any) (string, error) {
	b, err := canon.Encode(v)
	if err != nil {
		return "", err
	}
	return SumHex(b), nil
}

// ValidHex reports whether s is a well-formed 64-char lowercase hex
// SHA-256 digest.
func ValidHex(s string) bool {
	return HexPattern.MatchString(s)
}

// RequireValidHex validates s and returns a kernelerr.InvalidHash error
// when malformed, per the artifact-store read protocol (§4.3).
func RequireValidHex(s string) error {
	if !ValidHex(s) {
		return kernelerr.New(kernelerr.InvalidHash, "hash is not a 64-char lowercase hex SHA-256 digest")
	}
	return nil
}

// ConstantTimeEqualHex compares two hex digests in constant time. Used
// wherever a mismatch vs match is itself a security decision (signature
// verdicts, artifact identity checks) rather than a diagnostic.
func ConstantTimeEqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
