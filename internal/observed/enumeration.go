package observed

import (
	"crypto/sha256"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgecore/forge/internal/pathtable"
)

// MembershipFilter decides whether a file name belongs in a directory
// enumeration's fingerprint, per the source-sealed directory patterns and
// (for search-path enumerations) the accessed-file-name augmentation
// described in §4.2's "Search-path semantics".
type MembershipFilter struct {
	Patterns     []string // doublestar glob patterns; nil/empty means "match everything"
	ExtraNames   map[string]struct{} // augmented for search-path enumerations
}

// Matches reports whether name (a bare file name, not a path) is included
// by this filter. Matching is case-insensitive, per the platform
// directory-enumeration convention (§4.2).
func (f MembershipFilter) Matches(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := f.ExtraNames[lower]; ok {
		return true
	}
	if len(f.Patterns) == 0 {
		return true
	}
	for _, pattern := range f.Patterns {
		if ok, _ := doublestar.Match(strings.ToLower(pattern), lower); ok {
			return true
		}
	}
	return false
}

// WithAccessedName returns a copy of the filter augmented with an
// additional file name, used to keep a search-path enumeration's filter
// stable across cache lookups once a dependent name has been observed.
func (f MembershipFilter) WithAccessedName(name string) MembershipFilter {
	extra := make(map[string]struct{}, len(f.ExtraNames)+1)
	for k := range f.ExtraNames {
		extra[k] = struct{}{}
	}
	extra[strings.ToLower(name)] = struct{}{}
	return MembershipFilter{Patterns: f.Patterns, ExtraNames: extra}
}

// DirectoryLister abstracts over however directory entries are actually
// obtained (real filesystem, full build graph, or minimal dependency
// closure) so enumeration mode dispatch stays pure.
type DirectoryLister interface {
	// List returns the bare file names directly under dir, already
	// expanded to their platform string form. Implementations need not
	// sort; Enumerate sorts case-insensitively before hashing.
	List(dir pathtable.Path) ([]string, error)
}

// Enumerate lists a directory's entries under mode using lister, filters
// them through filter, sorts case-insensitively, and hashes the ordered,
// filtered names into a directory fingerprint.
//
// Every mode other than DefaultFingerprint lists entries through the same
// lister; the mode does not select a different entry source, and
// MinimalGraphWithAlienFiles does not exclude build-produced files.
//
// A MinimalGraph enumeration that yields no matching entries reports
// absent=true instead of a fingerprint: §9 deliberately does not
// distinguish a genuinely empty source directory from a missing one, so
// the caller normalizes this case to the same ObservedInput shape as a
// missing path (AbsentPathProbe) rather than DirectoryEnumeration.
func Enumerate(dir pathtable.Path, mode EnumerationMode, lister DirectoryLister, filter MembershipFilter) (fp [32]byte, names []string, absent bool, err error) {
	if mode == DefaultFingerprint {
		return defaultFingerprint(), nil, false, nil
	}

	listed, err := lister.List(dir)
	if err != nil {
		return defaultFingerprint(), nil, false, err
	}

	var filtered []string
	for _, name := range listed {
		if filter.Matches(name) {
			filtered = append(filtered, name)
		}
	}
	if mode == MinimalGraph && len(filtered) == 0 {
		// Normalizes to the same shape as a missing directory; see
		// DESIGN.md's Open Question decision.
		return defaultFingerprint(), nil, true, nil
	}

	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i]) < strings.ToLower(filtered[j])
	})

	h := sha256.New()
	for _, name := range filtered {
		h.Write([]byte(strings.ToLower(name)))
		h.Write([]byte{0}) // separator so "ab","c" != "a","bc"
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, filtered, false, nil
}

// defaultFingerprint is the constant fingerprint used for
// DefaultFingerprint mode and for normalized-empty MinimalGraph results.
func defaultFingerprint() [32]byte {
	return sha256.Sum256([]byte("forge-default-directory-fingerprint"))
}
