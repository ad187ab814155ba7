package contentsession

import (
	"context"
	"fmt"
	"os"

	"github.com/forgecore/forge/internal/vsohash"
)

// StatFunc abstracts the local existence check PlaceFile needs before
// deciding whether to even contact the remote store; tests substitute a
// fake instead of touching a real filesystem.
type StatFunc func(path string) (exists bool, err error)

// OSStat is the StatFunc backed by the real filesystem.
func OSStat(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ExistenceCheckedPlace wraps a Place backend with the §4.5 replacement-mode
// short-circuit: SkipIfExists/FailIfExists are resolved locally, without a
// remote call, before ReplaceAlways falls through to the backend.
type ExistenceCheckedPlace struct {
	Backend Place
	Stat    StatFunc
}

func (p ExistenceCheckedPlace) PlaceFile(ctx context.Context, hash vsohash.ContentHash, destination string, access AccessMode, replacement ReplacementMode, realization RealizationMode) (PinStatus, error) {
	stat := p.Stat
	if stat == nil {
		stat = OSStat
	}
	if replacement == SkipIfExists || replacement == FailIfExists {
		exists, err := stat(destination)
		if err != nil {
			return Error, err
		}
		if exists {
			switch replacement {
			case SkipIfExists:
				return AlreadyExists, nil
			case FailIfExists:
				return Error, fmt.Errorf("contentsession: file exists: %s", destination)
			}
		}
	}
	return p.Backend.PlaceFile(ctx, hash, destination, access, replacement, realization)
}
