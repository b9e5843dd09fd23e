package util

import (
	"strconv"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString32 maps an arbitrary identifier onto a 32-bit matrix key.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution.
// The result is never zero so that hashed identifiers never collide with the
// column key that collaborators commonly reserve for "row totals".
func HashString32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	hash := uint32(offset32)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime32
	}

	if hash == 0 {
		return 1
	}
	return hash
}

// ParseKey converts an identifier to a matrix key.
// Decimal identifiers that fit into 32 bits are used as-is, everything else is hashed.
func ParseKey(s string) uint32 {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v)
	}
	return HashString32(s)
}

// --------------------------------------------------------------------------
// Sizing Helpers
// --------------------------------------------------------------------------

// NextPowerOfTwo returns the smallest power of two that is >= n (minimum 1).
func NextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
