package observed

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forgecore/forge/internal/pathtable"
)

// ProducedOutputView answers whether a path is (or will be) produced by
// this build, consulted first during existence resolution.
type ProducedOutputView interface {
	// Lookup returns the existence of path if this build produces or has
	// produced it, and ok=true. ok=false means "ask the real filesystem".
	Lookup(path pathtable.Path) (existence PathExistence, ok bool)
}

// FullGraphView answers whether a path is known to the build graph at
// all (used to resolve directory existence for paths that may be
// directories known to the graph but not materialized on disk yet).
type FullGraphView interface {
	IsKnownDirectory(path pathtable.Path) bool
}

// RealFilesystemProbe is the minimal real-filesystem capability the
// existence resolver needs; kept narrow so it's trivial to fake in tests.
type RealFilesystemProbe interface {
	Stat(absPath string) (isDir bool, err error)
}

// osProbe implements RealFilesystemProbe against the real OS filesystem.
type osProbe struct{}

func (osProbe) Stat(absPath string) (bool, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// OSProbe is the default RealFilesystemProbe backed by the OS.
var OSProbe RealFilesystemProbe = osProbe{}

// Resolver combines the three-tier filesystem view (§4.2 step 2) and
// caches real-filesystem existence results for the life of the build,
// per the shared-resource policy in §5 ("File artifact existence cache").
type Resolver struct {
	Table    *pathtable.Table
	Produced ProducedOutputView
	Graph    FullGraphView
	Real     RealFilesystemProbe

	cache *lru.Cache[pathtable.Path, PathExistence]
}

// NewResolver constructs a Resolver with a bounded existence cache.
// cacheSize of 0 selects a sensible default.
func NewResolver(table *pathtable.Table, produced ProducedOutputView, graph FullGraphView, real RealFilesystemProbe, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 1 << 16
	}
	cache, _ := lru.New[pathtable.Path, PathExistence](cacheSize)
	return &Resolver{Table: table, Produced: produced, Graph: graph, Real: real, cache: cache}
}

// Resolve implements the three-tier lookup: produced-output view first,
// then the real filesystem (cached for the build duration unless
// explicitly refreshed via Invalidate), then the full-graph view for
// directory existence of paths the graph may know about.
func (r *Resolver) Resolve(path pathtable.Path) PathExistence {
	if r.Produced != nil {
		if existence, ok := r.Produced.Lookup(path); ok {
			return existence
		}
	}

	if cached, ok := r.cache.Get(path); ok {
		return cached
	}

	existence := Nonexistent
	if r.Real != nil {
		isDir, err := r.Real.Stat(r.Table.Expand(path))
		switch {
		case err == nil && isDir:
			existence = ExistsAsDirectory
		case err == nil:
			existence = ExistsAsFile
		default:
			if r.Graph != nil && r.Graph.IsKnownDirectory(path) {
				existence = ExistsAsDirectory
			}
		}
	}

	r.cache.Add(path, existence)
	return existence
}

// Invalidate drops a cached real-filesystem existence result, used when a
// pip is known to have materialized or removed a path since it was last
// resolved.
func (r *Resolver) Invalidate(path pathtable.Path) {
	r.cache.Remove(path)
}
