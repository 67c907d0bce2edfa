// Package cos ("common os"/small-utils) holds the handful of helpers shared
// by every layer: checksums and a couple of byte-slice conveniences.
package cos

import "github.com/OneOfOne/xxhash"

// Checksum64 returns the xxhash64 checksum of b. Used to validate read/write
// trailing payloads end to end; it is an integrity check, not a security
// mechanism (see auth package for the latter).
func Checksum64(b []byte) uint64 {
	return xxhash.Checksum64(b)
}

// VerifyChecksum64 reports whether b hashes to want.
func VerifyChecksum64(b []byte, want uint64) bool {
	return Checksum64(b) == want
}
