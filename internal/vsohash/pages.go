package vsohash

import (
	"crypto/sha256"
)

// PageSize is the size, in bytes, of a single page within a block. The
// final page of a block may be shorter.
const PageSize = 64 * 1024

// PagesPerBlock is the maximum number of pages in a single block.
const PagesPerBlock = 32

// BlockSize is the maximum size, in bytes, of a single block: 32 pages of
// 64 KiB each.
const BlockSize = PagesPerBlock * PageSize

// BlockHash is the SHA-256 digest of a block's concatenated page hashes.
type BlockHash [sha256.Size]byte

// hashPages splits block into up to PagesPerBlock pages, hashes each with
// SHA-256, and returns the page digests concatenated in page order (not
// yet re-hashed into a BlockHash).
func hashPages(block []byte) []byte {
	if len(block) == 0 {
		sum := sha256.Sum256(nil)
		return sum[:]
	}
	concat := make([]byte, 0, sha256.Size*PagesPerBlock)
	for offset := 0; offset < len(block); offset += PageSize {
		end := offset + PageSize
		if end > len(block) {
			end = len(block)
		}
		sum := sha256.Sum256(block[offset:end])
		concat = append(concat, sum[:]...)
	}
	return concat
}

// hashBlock computes the BlockHash of a single block: SHA-256 of the
// concatenation of its page hashes.
func hashBlock(block []byte) BlockHash {
	return BlockHash(sha256.Sum256(hashPages(block)))
}
