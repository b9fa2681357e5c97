// Package ids centralizes identifier and timestamp conventions shared
// by every artifact kind: UUID v4 identifiers and millisecond-precision
// ISO-8601 UTC timestamps (§3).
package ids

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// New mints a new UUID v4 in canonical lowercase form.
func New() string {
	return uuid.New().String()
}

var v4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IsV4 reports whether s is a canonical-form, lowercase UUID v4.
func IsV4(s string) bool {
	return v4Pattern.MatchString(s)
}

// timestamp layout: ISO-8601 UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var tsPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

// IsTimestamp reports whether s is a well-formed ISO-8601 UTC
// millisecond timestamp.
func IsTimestamp(s string) bool {
	if !tsPattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(TimestampLayout, s)
	return err == nil
}

// NowTimestamp renders the current instant in the canonical format.
// Kernel components that must be pure (canon, khash, binding, policy,
// replay) never call this; only impure boundaries (the event store and
// the kernelctl CLI) do.
func NowTimestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}
