// Package signature canonicalizes stderr output into a stable fingerprint.
// Two tracebacks that differ only in file paths, line numbers, or other
// numeric noise produce the same signature, which lets previously-seen
// failures be recognized across runs in different temp directories.
package signature

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

// maxNormalizedLen caps the normalized text fed into the hash.
const maxNormalizedLen = 1024

var (
	// POSIX-style absolute or relative paths with at least one separator.
	posixPathRe = regexp.MustCompile(`(/[\w.\-]+)+`)
	// Windows drive paths like C:\Users\x\file.py.
	windowsPathRe = regexp.MustCompile(`[A-Za-z]:\\[^\s'"]*`)
	digitsRe      = regexp.MustCompile(`\d+`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// Normalize strips paths, replaces digit runs with "N", collapses whitespace,
// and clips the result. Exposed separately so tests can assert the
// canonical form without hashing.
func Normalize(stderr string) string {
	s := posixPathRe.ReplaceAllString(stderr, "")
	s = windowsPathRe.ReplaceAllString(s, "")
	s = digitsRe.ReplaceAllString(s, "N")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxNormalizedLen {
		s = s[:maxNormalizedLen]
	}
	return s
}

// Compute returns the hex SHA-1 of the normalized stderr.
func Compute(stderr string) string {
	sum := sha1.Sum([]byte(Normalize(stderr)))
	return hex.EncodeToString(sum[:])
}
