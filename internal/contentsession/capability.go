// Package contentsession implements the retrying content-session client
// (C7): a capability-set session over a remote content store, with a
// retry-decorator wrapper and a dedup-aware pin strategy (C7b).
package contentsession

import (
	"context"
	"io"

	"github.com/forgecore/forge/internal/vsohash"
)

// PinStatus is the outcome of a pin/place attempt against the remote
// store (§4.5).
type PinStatus uint8

const (
	Success PinStatus = iota
	ContentNotFound
	AlreadyExists
	Error
)

func (s PinStatus) String() string {
	switch s {
	case Success:
		return "Success"
	case ContentNotFound:
		return "ContentNotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// PinResult is a single pin outcome, optionally carrying the error that
// produced PinStatus == Error.
type PinResult struct {
	Status PinStatus
	Err    error
}

// AccessMode controls the requested permissions on a placed file.
type AccessMode uint8

const (
	AccessReadOnly AccessMode = iota
	AccessWrite
)

// ReplacementMode controls place_file's behavior when destination_path
// already exists (§4.5).
type ReplacementMode uint8

const (
	ReplaceAlways ReplacementMode = iota
	SkipIfExists
	FailIfExists
)

// RealizationMode controls how the placed file's bytes are materialized
// (copy vs. hardlink-from-cache), left opaque to this package beyond
// being threaded through to the backend.
type RealizationMode uint8

const (
	RealizationCopy RealizationMode = iota
	RealizationHardlink
)

// Pin is the capability to extend a content hash's remote TTL.
type Pin interface {
	Pin(ctx context.Context, hash vsohash.ContentHash) (PinResult, error)
}

// BulkPin is the capability to pin many hashes in one remote round trip,
// returning one indexed result per input hash in the same order.
type BulkPin interface {
	PinBulk(ctx context.Context, hashes []vsohash.ContentHash) ([]PinResult, error)
}

// Open is the capability to stream a hash's bytes back from the remote
// store.
type Open interface {
	OpenStream(ctx context.Context, hash vsohash.ContentHash) (io.ReadCloser, error)
}

// Place is the capability to materialize a hash's content at a local
// destination path under the §4.5 replacement-mode policy.
type Place interface {
	PlaceFile(ctx context.Context, hash vsohash.ContentHash, destination string, access AccessMode, replacement ReplacementMode, realization RealizationMode) (PinStatus, error)
}

// Session is the full capability set a content-session backend may offer.
// A backend that offers only some capabilities implements the individual
// interfaces (Pin, BulkPin, Open, Place) rather than Session, matching the
// spec's decomposition away from a monolithic session class (Design Note,
// Open Question resolution).
type Session interface {
	Pin
	BulkPin
	Open
	Place
}
