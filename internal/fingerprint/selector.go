package fingerprint

import (
	"bytes"

	"github.com/forgecore/forge/internal/vsohash"
)

// MaxSelectorOutputBytes is the §3 Selector invariant: output bytes are
// capped at 1 KiB.
const MaxSelectorOutputBytes = 1024

// Selector is (content-hash, output-bytes), combined with a weak
// fingerprint to form a strong fingerprint cache key. Equality is
// content-hash equality AND byte-wise output equality.
type Selector struct {
	ContentHash vsohash.ContentHash
	OutputBytes []byte
}

// NewSelector validates the §3 size invariant and constructs a Selector.
func NewSelector(hash vsohash.ContentHash, output []byte) (Selector, bool) {
	if len(output) > MaxSelectorOutputBytes {
		return Selector{}, false
	}
	return Selector{ContentHash: hash, OutputBytes: append([]byte(nil), output...)}, true
}

// Equal reports whether two selectors carry an equal content hash and
// byte-identical output.
func (s Selector) Equal(other Selector) bool {
	return s.ContentHash.Equal(other.ContentHash) && bytes.Equal(s.OutputBytes, other.OutputBytes)
}

// Key combines a Selector with a weak fingerprint to produce the strong
// fingerprint cache key used to look an entry up in the memoization store.
func (s Selector) Key(weak WeakFingerprint) StrongFingerprint {
	enc := newEncoder()
	enc.Add(0, s.ContentHash.Bytes[:])
	enc.Add(1, []byte{byte(s.ContentHash.Algorithm)})
	enc.Add(2, s.OutputBytes)
	enc.Add(3, weak[:])
	return enc.Sum()
}
