package sandbox_test

import (
	"testing"

	"github.com/forgecore/forge/internal/observed"
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/sandbox"
)

func TestConvertAccumulatesFlagsPerPath(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	adapter := sandbox.Adapter{Table: table}

	events := []sandbox.RawEvent{
		{Path: "/src/main.go", Kind: sandbox.AccessProbe},
		{Path: "/src/main.go", Kind: sandbox.AccessRead},
		{Path: "/src", Kind: sandbox.AccessEnumeration, EnumerationPattern: "*.go", IsSearchPath: true},
	}

	observations := adapter.Convert(events)
	if len(observations) != 2 {
		t.Fatalf("expected 2 distinct paths, got %d", len(observations))
	}

	var mainObs, dirObs *observed.Observation
	for i := range observations {
		switch table.Expand(observations[i].Path) {
		case "/src/main.go":
			mainObs = &observations[i]
		case "/src":
			dirObs = &observations[i]
		}
	}
	if mainObs == nil || dirObs == nil {
		t.Fatalf("expected both paths represented, got %+v", observations)
	}
	if !mainObs.Flags.Has(observed.FileProbe) {
		t.Errorf("expected FileProbe flag on main.go")
	}
	if !dirObs.Flags.Has(observed.Enumeration) {
		t.Errorf("expected Enumeration flag on /src")
	}
	if dirObs.EnumerationPattern != "*.go" || !dirObs.IsSearchPath {
		t.Errorf("expected enumeration metadata to carry through, got %+v", dirObs)
	}
}

func TestConvertConcurrentMergesAcrossProcesses(t *testing.T) {
	t.Parallel()
	table := pathtable.New()
	adapter := sandbox.Adapter{Table: table}

	batches := map[sandbox.ProcessID][]sandbox.RawEvent{
		1: {{Path: "/shared/lib.go", Kind: sandbox.AccessProbe}},
		2: {{Path: "/shared/lib.go", Kind: sandbox.AccessRead}},
		3: {{Path: "/shared/other.go", Kind: sandbox.AccessProbe}},
	}

	observations := adapter.ConvertConcurrent(batches)
	if len(observations) != 2 {
		t.Fatalf("expected 2 distinct paths merged across processes, got %d", len(observations))
	}
	for _, obs := range observations {
		if table.Expand(obs.Path) == "/shared/lib.go" {
			if !obs.Flags.Has(observed.FileProbe) {
				t.Errorf("expected lib.go to carry FileProbe from process 1")
			}
		}
	}
}
