package pathtable_test

import (
	"sort"
	"testing"

	"github.com/forgecore/forge/internal/pathtable"
)

func TestInternIsIdempotent(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	a := table.Intern("/src/main.go")
	b := table.Intern("/src/main.go")
	if a != b {
		t.Errorf("interning the same path twice produced different Paths: %v != %v", a, b)
	}
}

func TestExpandRoundTrips(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	p := table.Intern("/src/main.go")
	if got := table.Expand(p); got != "/src/main.go" {
		t.Errorf("got %q, want %q", got, "/src/main.go")
	}
}

func TestSortByExpandedPath(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	artifacts := []pathtable.FileArtifact{
		{Path: table.Intern("/src/c.go")},
		{Path: table.Intern("/src/a.go")},
		{Path: table.Intern("/src/b.go")},
	}
	sort.Sort(pathtable.ByExpandedPath{Artifacts: artifacts, Table: table})

	want := []string{"/src/a.go", "/src/b.go", "/src/c.go"}
	for i, a := range artifacts {
		if got := table.Expand(a.Path); got != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got, want[i])
		}
	}
}

func TestDirectoryArtifactDistinctBySealID(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	p := table.Intern("/out/opaque")
	a := pathtable.DirectoryArtifact{Path: p, PartialSealID: 1}
	b := pathtable.DirectoryArtifact{Path: p, PartialSealID: 2}
	if a.Equal(b) {
		t.Error("directory artifacts with different PartialSealID must not be equal")
	}
}
