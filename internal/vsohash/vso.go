package vsohash

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// vsoSeed is the fixed seed byte string the rolling identifier starts
// from. It has no cryptographic significance; it exists only so that the
// empty stream, and every stream, has a deterministic starting state.
var vsoSeed = []byte("forge-vso-content-identifier-seed-v1")

// ErrAlreadyFinalized is returned when Roller.Update is called again after
// a final block has already been folded in.
var ErrAlreadyFinalized = errors.New("vsohash: identifier already finalized")

// ErrShortRead is returned when a stream ends before a full block was
// promised by the caller (known-length hashing only).
var ErrShortRead = errors.New("vsohash: short read before promised block boundary")

// Roller folds a sequence of block hashes into a single rolling VSO
// identifier. Update must be called in block order; it is not safe for
// concurrent use. Once a final block has been folded in, the roller is
// frozen and further calls fail with ErrAlreadyFinalized.
type Roller struct {
	state     []byte
	finalized bool
}

// NewRoller returns a Roller primed with the fixed seed state.
func NewRoller() *Roller {
	return &Roller{state: append([]byte(nil), vsoSeed...)}
}

// Update folds the next block hash into the rolling state. isFinal marks
// the last block of the stream; once a final block has been folded in, any
// further call returns ErrAlreadyFinalized.
func (r *Roller) Update(block BlockHash, isFinal bool) error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	finalByte := byte(0)
	if isFinal {
		finalByte = 1
	}
	buf := make([]byte, 0, len(r.state)+len(block)+1)
	buf = append(buf, r.state...)
	buf = append(buf, block[:]...)
	buf = append(buf, finalByte)
	sum := sha256.Sum256(buf)
	r.state = sum[:]
	if isFinal {
		r.finalized = true
	}
	return nil
}

// Finalized reports whether a final block has already been folded in.
func (r *Roller) Finalized() bool {
	return r.finalized
}

// State returns the current 32-byte rolling state. Once Finalized is true
// this is the final VSO identifier bytes.
func (r *Roller) State() [32]byte {
	var out [32]byte
	copy(out[:], r.state)
	return out
}

// BlobIdentifierWithBlocks is the ordered sequence of block hashes for a
// piece of content plus the rolling VSO identifier folded from them.
type BlobIdentifierWithBlocks struct {
	Blocks    []BlockHash
	Algorithm AlgorithmTag
	VSO       [32]byte
}

// ContentHash projects the VSO identifier down to a ContentHash.
func (b BlobIdentifierWithBlocks) ContentHash() ContentHash {
	return ContentHash{Algorithm: b.Algorithm, Bytes: b.VSO}
}

// OfNothing is the well-known identifier for a zero-length stream: a
// single, empty block folded in as final.
var OfNothing = mustHashBytes(nil)

func mustHashBytes(b []byte) BlobIdentifierWithBlocks {
	id, err := HashBytes(context.Background(), b, 0)
	if err != nil {
		panic(err)
	}
	return id
}

// HashBytes hashes an in-memory byte slice. maxParallelBlocks bounds how
// many blocks may have their page hashes computed concurrently before the
// sequential rolling fold; 0 means runtime.NumCPU().
func HashBytes(ctx context.Context, data []byte, maxParallelBlocks int) (BlobIdentifierWithBlocks, error) {
	blocks := splitBlocks(data)
	return hashBlocksParallel(ctx, blocks, maxParallelBlocks)
}

// splitBlocks cuts data into BlockSize chunks, the last possibly shorter.
// An empty input yields exactly one (empty) block, matching OfNothing.
func splitBlocks(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var blocks [][]byte
	for offset := 0; offset < len(data); offset += BlockSize {
		end := offset + BlockSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[offset:end])
	}
	return blocks
}

// hashBlocksParallel computes each block's BlockHash concurrently (bounded
// by a semaphore) and then folds them into the rolling identifier strictly
// in block order.
func hashBlocksParallel(ctx context.Context, blocks [][]byte, maxParallel int) (BlobIdentifierWithBlocks, error) {
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}
	hashes := make([]BlockHash, len(blocks))
	sem := semaphore.NewWeighted(int64(maxParallel))
	errs := make(chan error, len(blocks))
	for i, block := range blocks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return BlobIdentifierWithBlocks{}, err
		}
		go func(i int, block []byte) {
			defer sem.Release(1)
			hashes[i] = hashBlock(block)
			errs <- nil
		}(i, block)
	}
	for range blocks {
		if err := <-errs; err != nil {
			return BlobIdentifierWithBlocks{}, err
		}
	}

	roller := NewRoller()
	for i, h := range hashes {
		isFinal := i == len(hashes)-1
		if err := roller.Update(h, isFinal); err != nil {
			return BlobIdentifierWithBlocks{}, err
		}
	}
	return BlobIdentifierWithBlocks{
		Blocks:    hashes,
		Algorithm: AlgorithmVSO0,
		VSO:       roller.State(),
	}, nil
}

// HashReader hashes a stream of unknown length, reading at most BlockSize
// bytes at a time. Block finality is determined by a one-byte lookahead
// carried across iterations so no block boundary byte is ever lost.
func HashReader(r io.Reader) (BlobIdentifierWithBlocks, error) {
	roller := NewRoller()
	var blocks []BlockHash

	var carry []byte
	buf := make([]byte, BlockSize)
	for {
		n := copy(buf, carry)
		carry = nil
		read, err := io.ReadFull(r, buf[n:])
		total := n + read
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return BlobIdentifierWithBlocks{}, err
		}
		if total < BlockSize {
			// Short block: necessarily the final block.
			h := hashBlock(buf[:total])
			blocks = append(blocks, h)
			if rerr := roller.Update(h, true); rerr != nil {
				return BlobIdentifierWithBlocks{}, rerr
			}
			break
		}

		// We have a full block; peek one more byte to discover finality
		// without losing it.
		one := make([]byte, 1)
		peeked, perr := io.ReadFull(r, one)
		h := hashBlock(buf[:BlockSize])
		blocks = append(blocks, h)
		if peeked == 0 {
			if rerr := roller.Update(h, true); rerr != nil {
				return BlobIdentifierWithBlocks{}, rerr
			}
			break
		}
		if perr != nil && !errors.Is(perr, io.EOF) && !errors.Is(perr, io.ErrUnexpectedEOF) {
			return BlobIdentifierWithBlocks{}, perr
		}
		if rerr := roller.Update(h, false); rerr != nil {
			return BlobIdentifierWithBlocks{}, rerr
		}
		carry = one[:peeked]
	}

	return BlobIdentifierWithBlocks{
		Blocks:    blocks,
		Algorithm: AlgorithmVSO0,
		VSO:       roller.State(),
	}, nil
}

// HashKnownLength hashes exactly length bytes from r, failing with
// ErrShortRead if the stream ends early. This is the fast path used when
// the caller already knows the content length (e.g. from a file's stat).
func HashKnownLength(ctx context.Context, r io.Reader, length int64, maxParallelBlocks int) (BlobIdentifierWithBlocks, error) {
	if length == 0 {
		return HashBytes(ctx, nil, maxParallelBlocks)
	}
	var blocks [][]byte
	remaining := length
	for remaining > 0 {
		n := int64(BlockSize)
		if remaining < n {
			n = remaining
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(r, buf)
		if err != nil || int64(read) != n {
			return BlobIdentifierWithBlocks{}, ErrShortRead
		}
		blocks = append(blocks, buf)
		remaining -= n
	}
	return hashBlocksParallel(ctx, blocks, maxParallelBlocks)
}
