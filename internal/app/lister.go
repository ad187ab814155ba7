package app

import (
	"os"

	"github.com/forgecore/forge/internal/pathtable"
)

// RealDirectoryLister implements observed.DirectoryLister against the
// real filesystem; no such implementation exists outside tests, since
// enumeration sources (real fs, full graph, minimal graph) are otherwise
// only faked for C4's own unit tests.
type RealDirectoryLister struct {
	Table *pathtable.Table
}

func (l RealDirectoryLister) List(dir pathtable.Path) ([]string, error) {
	entries, err := os.ReadDir(l.Table.Expand(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
