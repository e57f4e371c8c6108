package analytics

import "regexp"

// minorVersionRe captures the first two dot-separated numeric components of
// a version string; everything after is discarded.
var minorVersionRe = regexp.MustCompile(`^(\d+\.\d+)`)

// MinorVersion truncates a runtime version to its minor grouping key:
// "3.11.5" → "3.11", and a bare "3.11" passes through unchanged.
//
// Strings that do not start with digits.digits are returned unchanged
// rather than rejected, so exotic runtime version schemes still bucket
// by their literal value.
func MinorVersion(v string) string {
	if m := minorVersionRe.FindString(v); m != "" {
		return m
	}
	return v
}
