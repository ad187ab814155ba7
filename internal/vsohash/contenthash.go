// Package vsohash implements the content hasher (C1): a deterministic,
// blocked rolling hash used as the identity for all content addressed by
// the build cache.
//
// A stream is cut into 2 MiB blocks, each block into 32 pages of 64 KiB,
// and the per-page SHA-256 digests are concatenated and re-hashed to form
// the block hash. Block hashes are folded, in order, into a single rolling
// "VSO" identifier. The folding is strictly sequential; computing the
// individual block hashes may happen in parallel.
package vsohash

import "bytes"

// AlgorithmTag identifies the hashing scheme a ContentHash was produced by.
type AlgorithmTag uint8

// AlgorithmVSO0 is the only algorithm tag this package produces: the VSO
// blocked rolling hash described in the package doc.
const AlgorithmVSO0 AlgorithmTag = 0

// HashSize is the fixed byte length of a ContentHash.
const HashSize = 32

// ContentHash is a tagged, fixed-size content identity. Equality is
// byte-wise comparison of both the algorithm tag and the digest bytes.
type ContentHash struct {
	Algorithm AlgorithmTag
	Bytes     [HashSize]byte
}

// Equal reports whether two content hashes carry the same algorithm tag
// and the same digest bytes.
func (h ContentHash) Equal(other ContentHash) bool {
	return h.Algorithm == other.Algorithm && bytes.Equal(h.Bytes[:], other.Bytes[:])
}

// IsZero reports whether h is the zero-value ContentHash (not a sentinel,
// just uninitialised).
func (h ContentHash) IsZero() bool {
	return h.Algorithm == 0 && h.Bytes == [HashSize]byte{}
}

func sentinel(marker byte) ContentHash {
	var b [HashSize]byte
	for i := range b {
		b[i] = marker
	}
	return ContentHash{Algorithm: AlgorithmVSO0, Bytes: b}
}

// AbsentFile is the reserved ContentHash used to represent a file that was
// declared but does not exist on disk.
var AbsentFile = sentinel(0xFF)

// Untracked is the reserved ContentHash used to represent content that was
// observed but is deliberately excluded from fingerprinting.
var Untracked = sentinel(0xFE)
