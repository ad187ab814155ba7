package app

import (
	"os"

	"github.com/forgecore/forge/internal/vsohash"
)

// FileHasher adapts vsohash.HashReader to the observed.Hasher capability
// C4 needs when a read requires hashing; vsohash itself only exposes
// reader/byte-slice entry points, not a path-based one.
type FileHasher struct{}

func (FileHasher) HashFile(absPath string) (vsohash.ContentHash, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return vsohash.ContentHash{}, err
	}
	defer f.Close()
	blob, err := vsohash.HashReader(f)
	if err != nil {
		return vsohash.ContentHash{}, err
	}
	return blob.ContentHash(), nil
}
