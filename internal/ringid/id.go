// Package ringid implements the modular identifier algebra of the Chord
// ring: hashing strings to ring positions and testing membership in the
// half-open and open arc intervals that the node state machine routes on.
package ringid

import (
	"crypto/sha1"
	"encoding/binary"
)

// DefaultM is the default bit-width of the identifier space (N = 2^m).
const DefaultM = 8

// N returns the ring size 2^m for the given bit-width.
func N(m int) int {
	return 1 << uint(m)
}

// Hash reduces s to a ring identifier in [0, 2^m). It takes the first four
// bytes of the SHA-1 digest of s's UTF-8 bytes as a big-endian uint32 and
// reduces modulo 2^m exactly once.
func Hash(s string, m int) int {
	sum := sha1.Sum([]byte(s))
	h := binary.BigEndian.Uint32(sum[:4])
	return int(h) % N(m)
}

// InHalfOpen reports whether x lies on the clockwise arc from a (exclusive)
// to b (inclusive). If a == b the arc covers the whole ring except a
// itself; if a < b the arc doesn't wrap and x must satisfy a < x <= b; if
// a > b the arc wraps through 0.
func InHalfOpen(x, a, b int) bool {
	if a == b {
		return x != a
	}
	if a < b {
		return x > a && x <= b
	}
	return x > a || x <= b
}

// InOpen reports whether x lies on the strictly-open clockwise arc from a
// to b. If a == b the arc is empty.
func InOpen(x, a, b int) bool {
	if a == b {
		return false
	}
	if a < b {
		return x > a && x < b
	}
	return x > a || x < b
}
