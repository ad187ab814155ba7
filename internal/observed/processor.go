package observed

import (
	"sort"
	"strings"

	"github.com/forgecore/forge/internal/fingerprint"
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/vsohash"
)

// SourceSealDependency is a declared directory dependency whose contents
// are sources rather than build outputs (§3, §4.2 pre-process step).
type SourceSealDependency struct {
	Artifact       pathtable.DirectoryArtifact
	AllDirectories bool // false: top-only; true: recursive
	Patterns       []string
}

// AccessDecision is what an AccessCheckFailure should do with the
// offending observation (§7).
type AccessDecision uint8

const (
	Fail AccessDecision = iota
	SuppressAndIgnorePath
)

// AccessPolicy decides, for an undeclared access that is not otherwise
// permitted, whether the build should fail or quietly ignore the path.
type AccessPolicy func(Observation) AccessDecision

// DefaultAccessPolicy always fails: the conservative default matching
// spec.md §4.2's "fatal access error unless AllowUndeclaredSourceReads".
func DefaultAccessPolicy(Observation) AccessDecision { return Fail }

// PipDescriptor carries everything the processor needs to know about the
// pip whose observations are being processed (§4.2 "Inputs").
type PipDescriptor struct {
	DeclaredFileDependencies      []pathtable.FileArtifact
	DeclaredDirectoryDependencies []SourceSealDependency
	AllowUndeclaredSourceReads    bool

	// Fresh-observation-only fields (not used in cache-lookup mode).
	SharedOpaqueOutputs []pathtable.DirectoryArtifact
	CreatedDirectories  []pathtable.Path

	// DeclaredProducers maps a path, if it is a declared build output of
	// some other pip, to whether that producer runs after this pip in the
	// schedule ("downstream"). Used by the ExistingFileProbe
	// reclassification rule.
	DeclaredProducers map[pathtable.Path]bool

	LazyDeletionEnabled bool
	Weak                fingerprint.WeakFingerprint
	UnsafeOptionsHash   []byte
}

// Hasher is the minimal capability the processor needs to turn a file
// path into a ContentHash when a read requires hashing.
type Hasher interface {
	HashFile(absPath string) (vsohash.ContentHash, error)
}

// Processor implements the three-pass observed-input algorithm (§4.2).
type Processor struct {
	Table    *pathtable.Table
	Resolver *Resolver
	Lister   DirectoryLister
	Hasher   Hasher
	Policy   AccessPolicy
}

// NewProcessor constructs a Processor with DefaultAccessPolicy if policy
// is nil.
func NewProcessor(table *pathtable.Table, resolver *Resolver, lister DirectoryLister, hasher Hasher, policy AccessPolicy) *Processor {
	if policy == nil {
		policy = DefaultAccessPolicy
	}
	return &Processor{Table: table, Resolver: resolver, Lister: lister, Hasher: hasher, Policy: policy}
}

// Process runs the three-pass algorithm (§4.2) over either a freshly
// collected set of post-execution observations or a replayed prior
// path-set; cacheLookup records which of the two the caller is feeding in
// (§4.2's "Inputs" list names a cache-lookup flag as an input). The two
// modes must produce identical strong fingerprints for equivalent inputs
// (§4.2's central invariant, restated as the §8 testable property), so
// cacheLookup plays no part in the fingerprint computation itself.
func (p *Processor) Process(pip PipDescriptor, observations []Observation, cacheLookup bool) (Result, error) {
	sorted := append([]Observation(nil), observations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return p.Table.Less(sorted[i].Path, sorted[j].Path)
	})

	sealedMembership := p.preprocessSourceSealed(pip)

	var (
		entries        []ObservedInput
		accessedNames  = make(map[string]struct{})
		allowedReads   []AllowedUndeclaredRead
		invalidCount   int
		lastAbsentPath pathtable.Path
		haveLastAbsent bool
		enumeratedDirs = make(map[pathtable.Path]MembershipFilter) // RealFilesystem-mode parents, for elision
	)

	declared := make(map[pathtable.Path]struct{}, len(pip.DeclaredFileDependencies))
	for _, d := range pip.DeclaredFileDependencies {
		declared[d.Path] = struct{}{}
	}

	for _, obs := range sorted {
		existence := p.Resolver.Resolve(obs.Path)
		input, isEnumeration := p.classify(obs, existence)
		input = p.reclassifyExistingFileProbe(pip, obs, input)

		// Elision rule 1: absent probe nested under a prior absent probe.
		if input.Type == AbsentPathProbe && haveLastAbsent && p.isUnder(lastAbsentPath, obs.Path) {
			continue
		}
		// Elision rule 2: absent probe under a real-fs-enumerated parent
		// whose filter would have included it anyway.
		if input.Type == AbsentPathProbe {
			if filter, ok := enumeratedDirs[p.parentOf(obs.Path)]; ok {
				name := p.baseName(obs.Path)
				if filter.Matches(name) {
					continue
				}
			}
		}

		_, isDeclared := declared[obs.Path]
		_, isSourceSealed := sealedMembership[obs.Path]
		if !isSourceSealed {
			parent := p.parentOf(obs.Path)
			for dir, dep := range sealedMembership {
				if parent == dir || (dep.AllDirectories && p.isUnder(dir, obs.Path)) {
					isSourceSealed = true
					break
				}
			}
		}
		isRead := input.Type == FileContentRead || input.Type == ExistingFileProbe || input.Type == ExistingDirectoryProbe
		if isRead && !isDeclared && !isSourceSealed {
			if !pip.AllowUndeclaredSourceReads {
				switch p.Policy(obs) {
				case SuppressAndIgnorePath:
					continue
				default:
					invalidCount++
					continue
				}
			}
			allowedReads = append(allowedReads, AllowedUndeclaredRead{Path: obs.Path})
		}

		if isEnumeration {
			mode := p.chooseEnumerationMode(pip, obs)
			filter := p.membershipFilterFor(pip, obs, sealedMembership)
			fp, names, absent, err := Enumerate(obs.Path, mode, p.Lister, filter)
			if err != nil {
				return Result{}, err
			}
			if absent {
				// §9: an empty MinimalGraph enumeration is indistinguishable
				// from a missing directory, so it is not recorded as a
				// DirectoryEnumeration input at all.
				input = ObservedInput{Type: AbsentPathProbe, Path: obs.Path}
			} else {
				input.DirectoryFingerprint = fp
				input.IsSearchPath = obs.IsSearchPath
				input.PatternRegex = obs.EnumerationPattern
				if mode == RealFilesystem {
					enumeratedDirs[obs.Path] = filter
				}
				for _, n := range names {
					accessedNames[strings.ToLower(n)] = struct{}{}
				}
			}
		}

		if input.Type == AbsentPathProbe {
			lastAbsentPath, haveLastAbsent = obs.Path, true
		} else {
			haveLastAbsent = false
		}

		entries = append(entries, input)
	}

	if invalidCount > 0 {
		return Result{Status: StatusMismatched, InvalidCount: invalidCount, Diagnostic: "one or more undeclared accesses violated the pip's access contract"}, nil
	}

	names := make([]string, 0, len(accessedNames))
	for n := range accessedNames {
		names = append(names, n)
	}
	sort.Strings(names)

	pathSetHash := p.pathSetHash(entries, names, pip.UnsafeOptionsHash)
	strong := fingerprint.StrongFingerprintOf(fingerprint.NamespacePipOutput, pip.Weak, pathSetHash, encodeInputs(entries))

	return Result{
		Status: StatusSuccess,
		PathSet: ObservedPathSet{
			Entries:           entries,
			AccessedFileNames: names,
		},
		AllowedUndeclaredReads: allowedReads,
		StrongFingerprint:      strong,
	}, nil
}

// classify maps (flags, existence) to one of the five ObservedInputType
// variants per §4.2 step 2.
func (p *Processor) classify(obs Observation, existence PathExistence) (ObservedInput, bool) {
	if obs.Flags.Has(Enumeration) {
		return ObservedInput{Type: DirectoryEnumeration, Path: obs.Path}, true
	}
	switch existence {
	case Nonexistent:
		return ObservedInput{Type: AbsentPathProbe, Path: obs.Path}, false
	case ExistsAsDirectory:
		return ObservedInput{Type: ExistingDirectoryProbe, Path: obs.Path}, false
	default: // ExistsAsFile
		if obs.Flags.Has(HashingRequired) {
			hash := vsohash.ContentHash{}
			if p.Hasher != nil {
				if h, err := p.Hasher.HashFile(p.Table.Expand(obs.Path)); err == nil {
					hash = h
				}
			}
			return ObservedInput{Type: FileContentRead, Path: obs.Path, ContentHash: hash}, false
		}
		return ObservedInput{Type: ExistingFileProbe, Path: obs.Path}, false
	}
}

// reclassifyExistingFileProbe implements §9's open question: a probe is
// reclassified from ExistingFileProbe to AbsentPathProbe when the path is
// under a shared-opaque directory, its declared producer is a downstream
// pip, and LazyDeletionEnabled is true. With lazy deletion disabled the
// probe is left as it is; there is no separate sideband-flag rule.
func (p *Processor) reclassifyExistingFileProbe(pip PipDescriptor, obs Observation, input ObservedInput) ObservedInput {
	if input.Type != ExistingFileProbe {
		return input
	}
	if !p.underSharedOpaque(pip, obs.Path) {
		return input
	}
	downstream, known := pip.DeclaredProducers[obs.Path]
	if !known || !downstream {
		return input
	}
	if !pip.LazyDeletionEnabled {
		return input
	}
	return ObservedInput{Type: AbsentPathProbe, Path: obs.Path}
}

func (p *Processor) underSharedOpaque(pip PipDescriptor, path pathtable.Path) bool {
	for _, opaque := range pip.SharedOpaqueOutputs {
		if p.isUnder(opaque.Path, path) {
			return true
		}
	}
	return false
}

// preprocessSourceSealed indexes each declared source-sealed directory
// dependency by its directory path (§4.2 step 1).
func (p *Processor) preprocessSourceSealed(pip PipDescriptor) map[pathtable.Path]SourceSealDependency {
	out := make(map[pathtable.Path]SourceSealDependency)
	// Membership is resolved per observation: the access-check loop in
	// Process counts a path as source-sealed when it is the directory
	// itself, a direct child of it, or (for an all-directories dependency)
	// anywhere under it; file-name patterns are not applied there.
	// membershipFilterFor applies the patterns of an enumerated path's
	// parent.
	for _, dep := range pip.DeclaredDirectoryDependencies {
		out[dep.Artifact.Path] = dep
	}
	return out
}

func (p *Processor) membershipFilterFor(pip PipDescriptor, obs Observation, sealed map[pathtable.Path]SourceSealDependency) MembershipFilter {
	parent := p.parentOf(obs.Path)
	filter := MembershipFilter{}
	if dep, ok := sealed[parent]; ok {
		filter.Patterns = dep.Patterns
	}
	if obs.IsSearchPath {
		filter = filter.WithAccessedName(p.baseName(obs.Path))
	}
	return filter
}

func (p *Processor) chooseEnumerationMode(pip PipDescriptor, obs Observation) EnumerationMode {
	// The mode is picked from the observation's flags alone:
	// HashingRequired selects MinimalGraph (MinimalGraphWithAlienFiles for
	// a search path), anything else RealFilesystem. DefaultFingerprint and
	// FullGraph are never chosen here; there is no mount information.
	switch {
	case obs.Flags.Has(HashingRequired) && obs.IsSearchPath:
		return MinimalGraphWithAlienFiles
	case obs.Flags.Has(HashingRequired):
		return MinimalGraph
	default:
		return RealFilesystem
	}
}

func (p *Processor) pathSetHash(entries []ObservedInput, accessedNames []string, unsafeOptionsHash []byte) [32]byte {
	pathEntries := make([][]byte, 0, len(entries))
	for _, e := range entries {
		pathEntries = append(pathEntries, []byte(p.Table.Expand(e.Path)))
	}
	return fingerprint.PathSetHash(pathEntries, accessedNames, unsafeOptionsHash)
}

func encodeInputs(entries []ObservedInput) []fingerprint.EncodedObservedInput {
	out := make([]fingerprint.EncodedObservedInput, 0, len(entries))
	for _, e := range entries {
		var payload []byte
		switch e.Type {
		case FileContentRead:
			payload = append(payload, e.ContentHash.Bytes[:]...)
		case DirectoryEnumeration:
			payload = append(payload, e.DirectoryFingerprint[:]...)
		}
		out = append(out, fingerprint.EncodedObservedInput{Tag: byte(e.Type), Payload: payload})
	}
	return out
}

func (p *Processor) parentOf(path pathtable.Path) pathtable.Path {
	full := p.Table.Expand(path)
	idx := strings.LastIndexByte(full, '/')
	if idx <= 0 {
		return p.Table.Intern("/")
	}
	return p.Table.Intern(full[:idx])
}

func (p *Processor) baseName(path pathtable.Path) string {
	full := p.Table.Expand(path)
	idx := strings.LastIndexByte(full, '/')
	return full[idx+1:]
}

func (p *Processor) isUnder(dir, path pathtable.Path) bool {
	if dir == path {
		return false
	}
	dirStr := p.Table.Expand(dir)
	pathStr := p.Table.Expand(path)
	return strings.HasPrefix(pathStr, strings.TrimSuffix(dirStr, "/")+"/")
}
