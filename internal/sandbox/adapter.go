// Package sandbox implements the sandbox observation adapter (C8): it
// converts the raw per-process file-access events a pip's sandbox reports
// into the Observation stream the observed-input processor (C4) consumes.
package sandbox

import (
	"runtime"
	"sync"

	"github.com/forgecore/forge/internal/observed"
	"github.com/forgecore/forge/internal/pathtable"
)

// AccessKind is the raw kind of file-system access the sandbox reported
// for one path within one process.
type AccessKind uint8

const (
	AccessProbe AccessKind = iota
	AccessRead
	AccessDirectoryProbe
	AccessEnumeration
)

// RawEvent is a single sandbox-reported access, before path interning or
// flag accumulation.
type RawEvent struct {
	Path               string
	Kind               AccessKind
	EnumerationPattern string
	IsSearchPath       bool
}

// ProcessID identifies one process within a pip's sandboxed tree; a pip
// may fork children, each reporting its own event batch concurrently.
type ProcessID int32

func flagFor(kind AccessKind) observed.ObservationFlag {
	switch kind {
	case AccessProbe:
		return observed.FileProbe
	case AccessRead:
		return observed.HashingRequired
	case AccessDirectoryProbe:
		return observed.DirectoryLocation
	case AccessEnumeration:
		return observed.Enumeration
	default:
		return 0
	}
}

// Adapter converts raw per-process events into the deduplicated
// Observation stream for one pip, interning every path through a shared
// table so downstream C4 processing can compare paths by id.
type Adapter struct {
	Table *pathtable.Table
}

// Convert merges a single process's raw events into one Observation per
// distinct path, accumulating flags (a path probed and then enumerated
// carries both).
func (a Adapter) Convert(events []RawEvent) []observed.Observation {
	byPath := make(map[pathtable.Path]*observed.Observation, len(events))
	order := make([]pathtable.Path, 0, len(events))

	for _, e := range events {
		id := a.Table.Intern(e.Path)
		obs, ok := byPath[id]
		if !ok {
			obs = &observed.Observation{Path: id}
			byPath[id] = obs
			order = append(order, id)
		}
		obs.Flags |= flagFor(e.Kind)
		if e.Kind == AccessEnumeration {
			obs.EnumerationPattern = e.EnumerationPattern
			obs.IsSearchPath = e.IsSearchPath
		}
	}

	out := make([]observed.Observation, 0, len(order))
	for _, id := range order {
		out = append(out, *byPath[id])
	}
	return out
}

// ConvertConcurrent merges event batches from every process a pip forked,
// fanning the per-process merge out over a worker pool and reducing the
// partial results into one Observation stream. Grounded on the same
// jobs/results/WaitGroup shape the content hasher uses to chew through a
// file list concurrently.
func (a Adapter) ConvertConcurrent(batches map[ProcessID][]RawEvent) []observed.Observation {
	type job struct {
		pid    ProcessID
		events []RawEvent
	}
	jobs := make(chan job)
	results := make(chan []observed.Observation)

	nWorkers := min(runtime.NumCPU(), len(batches))
	if nWorkers < 1 {
		nWorkers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- a.Convert(j.events)
			}
		}()
	}

	go func() {
		for pid, events := range batches {
			jobs <- job{pid: pid, events: events}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	merged := make(map[pathtable.Path]*observed.Observation)
	order := make([]pathtable.Path, 0)
	for partial := range results {
		for _, obs := range partial {
			existing, ok := merged[obs.Path]
			if !ok {
				o := obs
				merged[obs.Path] = &o
				order = append(order, obs.Path)
				continue
			}
			existing.Flags |= obs.Flags
			if obs.Flags.Has(observed.Enumeration) {
				existing.EnumerationPattern = obs.EnumerationPattern
				existing.IsSearchPath = obs.IsSearchPath
			}
		}
	}

	out := make([]observed.Observation, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	return out
}
