package vsohash_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/forgecore/forge/internal/vsohash"
)

// Test that hashing an empty stream produces the well-known OfNothing
// identity, and that it stays repeatable across runs.
func TestHashBytesEmptyIsOfNothing(t *testing.T) {
	t.Parallel()
	id, err := vsohash.HashBytes(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("HashBytes returned an error: %v", err)
	}
	if len(id.Blocks) != 1 {
		t.Fatalf("expected a single block for empty input, got %d", len(id.Blocks))
	}
	if id.VSO != vsohash.OfNothing.VSO {
		t.Errorf("empty stream identity does not match OfNothing")
	}
}

// Test that hashing is deterministic regardless of the block-parallelism
// factor requested by the caller.
func TestHashBytesIsDeterministicAcrossParallelism(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("forge"), vsohash.BlockSize) // several blocks

	first, err := vsohash.HashBytes(context.Background(), data, 1)
	if err != nil {
		t.Fatalf("HashBytes returned an error: %v", err)
	}

	for _, parallel := range []int{2, 4, 8, 0} {
		got, err := vsohash.HashBytes(context.Background(), data, parallel)
		if err != nil {
			t.Fatalf("HashBytes returned an error: %v", err)
		}
		if got.VSO != first.VSO {
			t.Errorf("parallelism %d produced a different identity: got %x, want %x", parallel, got.VSO, first.VSO)
		}
	}
}

// Test that a stream exactly BlockSize long takes the single-block path.
func TestHashBytesExactlyOneBlock(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0xAB}, vsohash.BlockSize)
	id, err := vsohash.HashBytes(context.Background(), data, 0)
	if err != nil {
		t.Fatalf("HashBytes returned an error: %v", err)
	}
	if len(id.Blocks) != 1 {
		t.Errorf("expected exactly one block, got %d", len(id.Blocks))
	}
}

// Test that a stream just over BlockSize splits into two blocks, the
// second shorter than the first.
func TestHashBytesTwoBlocksPagePadding(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0x01}, vsohash.BlockSize+vsohash.PageSize)
	id, err := vsohash.HashBytes(context.Background(), data, 0)
	if err != nil {
		t.Fatalf("HashBytes returned an error: %v", err)
	}
	if len(id.Blocks) != 2 {
		t.Fatalf("expected two blocks, got %d", len(id.Blocks))
	}
	if id.Blocks[0] == id.Blocks[1] {
		t.Errorf("expected the short final block to hash differently from the full first block")
	}
}

// Test the rolling identifier's single-shot finalize invariant directly.
func TestRollerCannotBeFinalizedTwice(t *testing.T) {
	t.Parallel()
	roller := vsohash.NewRoller()
	var block vsohash.BlockHash
	if err := roller.Update(block, true); err != nil {
		t.Fatalf("first Update returned an error: %v", err)
	}
	if err := roller.Update(block, true); err != vsohash.ErrAlreadyFinalized {
		t.Errorf("got %v, wanted ErrAlreadyFinalized", err)
	}
	if err := roller.Update(block, false); err != vsohash.ErrAlreadyFinalized {
		t.Errorf("got %v, wanted ErrAlreadyFinalized", err)
	}
}

// Test that HashReader agrees with HashBytes for a handful of boundary
// lengths, since it uses an entirely different block-boundary detection
// strategy (one-byte lookahead rather than knowing the length up front).
func TestHashReaderAgreesWithHashBytes(t *testing.T) {
	t.Parallel()
	lengths := []int{0, 1, vsohash.PageSize, vsohash.BlockSize - 1, vsohash.BlockSize, vsohash.BlockSize + 1, 2 * vsohash.BlockSize}

	for _, length := range lengths {
		data := bytes.Repeat([]byte{0x5A}, length)

		want, err := vsohash.HashBytes(context.Background(), data, 0)
		if err != nil {
			t.Fatalf("HashBytes(%d) returned an error: %v", length, err)
		}

		got, err := vsohash.HashReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("HashReader(%d) returned an error: %v", length, err)
		}

		if got.VSO != want.VSO {
			t.Errorf("length %d: HashReader identity %x != HashBytes identity %x", length, got.VSO, want.VSO)
		}
		if len(got.Blocks) != len(want.Blocks) {
			t.Errorf("length %d: HashReader produced %d blocks, HashBytes produced %d", length, len(got.Blocks), len(want.Blocks))
		}
	}
}

// Test that ContentHash equality is byte-wise and the two sentinels are
// distinct from each other and from a real digest.
func TestContentHashSentinelsAreDistinct(t *testing.T) {
	t.Parallel()
	if vsohash.AbsentFile.Equal(vsohash.Untracked) {
		t.Error("AbsentFile and Untracked sentinels must not compare equal")
	}
	real := vsohash.OfNothing.ContentHash()
	if real.Equal(vsohash.AbsentFile) || real.Equal(vsohash.Untracked) {
		t.Error("a real content hash must not collide with either sentinel")
	}
}
