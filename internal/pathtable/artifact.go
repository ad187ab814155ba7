package pathtable

// FileArtifact is a (path, rewrite-count) pair. The rewrite count
// disambiguates outputs produced over the same path by sequenced pips
// (§3 File Artifact).
type FileArtifact struct {
	Path         Path
	RewriteCount uint32
}

// Equal reports whether two file artifacts name the same path and rewrite
// generation.
func (f FileArtifact) Equal(other FileArtifact) bool {
	return f.Path == other.Path && f.RewriteCount == other.RewriteCount
}

// DirectoryArtifact is a (path, partial-seal-id, is-shared-opaque) triple.
// Two directory artifacts with equal path but different PartialSealID are
// distinct artifacts (§3 Directory Artifact).
type DirectoryArtifact struct {
	Path           Path
	PartialSealID  uint32
	IsSharedOpaque bool
}

// Equal reports whether two directory artifacts are the same seal of the
// same path.
func (d DirectoryArtifact) Equal(other DirectoryArtifact) bool {
	return d.Path == other.Path &&
		d.PartialSealID == other.PartialSealID &&
		d.IsSharedOpaque == other.IsSharedOpaque
}

// ByExpandedPath sorts FileArtifacts by their expanded path under a Table,
// mirroring spok's task.ByName sort.Interface pattern.
type ByExpandedPath struct {
	Artifacts []FileArtifact
	Table     *Table
}

func (b ByExpandedPath) Len() int      { return len(b.Artifacts) }
func (b ByExpandedPath) Swap(i, j int) { b.Artifacts[i], b.Artifacts[j] = b.Artifacts[j], b.Artifacts[i] }
func (b ByExpandedPath) Less(i, j int) bool {
	return b.Table.Less(b.Artifacts[i].Path, b.Artifacts[j].Path)
}
