// Package observed implements the observed-input processor (C4): it
// translates raw sandbox observations (or a prior cached path set) into a
// stable, cacheable ObservedPathSet and StrongFingerprint. This is the
// hardest correctness surface in the system (spec.md §4.2): cache-lookup
// and post-execution processing of the "same" inputs must produce
// byte-identical strong fingerprints.
package observed

import (
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/vsohash"
)

// ObservationFlag is a bitmask of what the sandbox recorded about an
// access to a path.
type ObservationFlag uint8

const (
	FileProbe ObservationFlag = 1 << iota
	DirectoryLocation
	Enumeration
	HashingRequired
)

func (f ObservationFlag) Has(flag ObservationFlag) bool { return f&flag != 0 }

// Observation is a single raw, sandbox-originated access record for one
// pip (§3 Observation).
type Observation struct {
	Path                pathtable.Path
	Flags               ObservationFlag
	EnumerationPattern  string // only meaningful when Flags.Has(Enumeration)
	IsSearchPath        bool
}

// ObservedInputType discriminates the five variants of a processed
// observation (§3 Observed Input).
type ObservedInputType uint8

const (
	AbsentPathProbe ObservedInputType = iota
	FileContentRead
	ExistingFileProbe
	ExistingDirectoryProbe
	DirectoryEnumeration
)

// ObservedInput is the tagged variant a raw Observation resolves to.
type ObservedInput struct {
	Type ObservedInputType
	Path pathtable.Path

	// FileContentRead
	ContentHash vsohash.ContentHash

	// DirectoryEnumeration
	DirectoryFingerprint [32]byte
	IsSearchPath         bool
	PatternRegex         string
}

// ObservedPathSet is the ordered, sorted-by-expanded-path sequence of
// observed inputs plus the set of accessed file-name atoms, compared
// case-insensitively (§3 Observed Path Set).
type ObservedPathSet struct {
	Entries           []ObservedInput
	AccessedFileNames []string
}

// PathExistence is the three-way existence classification produced by
// combining the produced-output, real-filesystem, and full-graph views.
type PathExistence uint8

const (
	Nonexistent PathExistence = iota
	ExistsAsFile
	ExistsAsDirectory
)

// EnumerationMode selects how a directory enumeration's fingerprint is
// formed (§4.2 "Fingerprint formation").
type EnumerationMode uint8

const (
	DefaultFingerprint EnumerationMode = iota
	RealFilesystem
	FullGraph
	MinimalGraph
	MinimalGraphWithAlienFiles
)

// ResultStatus discriminates the three variants of a processing result.
type ResultStatus uint8

const (
	StatusSuccess ResultStatus = iota
	StatusMismatched
	StatusAborted
)

// AllowedUndeclaredRead records a read that was permitted only because
// AllowUndeclaredSourceReads was set on the pip descriptor.
type AllowedUndeclaredRead struct {
	Path pathtable.Path
}

// Result is the tagged ObservedInputProcessingResult union (§4.2).
type Result struct {
	Status ResultStatus

	// StatusSuccess
	PathSet               ObservedPathSet
	DynamicObservations   []Observation
	AllowedUndeclaredReads []AllowedUndeclaredRead
	StrongFingerprint      [32]byte

	// StatusMismatched
	InvalidCount int

	// A human-readable diagnostic, populated for Mismatched/Aborted and
	// for the FatalObservation case under Success-adjacent failure.
	Diagnostic string
}
