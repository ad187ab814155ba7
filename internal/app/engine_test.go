package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgecore/forge/internal/app"
	"github.com/forgecore/forge/internal/dispatcher"
	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/observed"
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/pip"
	"github.com/forgecore/forge/internal/sandbox"
)

// scriptedExecutor stands in for sandbox-instrumented execution: it
// writes the configured output content to disk (as a real command would)
// and reports a read of the declared input and output, without shelling
// out to an actual process.
type scriptedExecutor struct {
	table         *pathtable.Table
	outputContent []byte
	calls         int
}

func (e *scriptedExecutor) Run(ctx context.Context, t *app.Target) ([]sandbox.RawEvent, []byte, error) {
	e.calls++
	var events []sandbox.RawEvent
	for _, in := range t.Inputs {
		events = append(events, sandbox.RawEvent{Path: e.table.Expand(in.Path), Kind: sandbox.AccessRead})
	}
	for _, out := range t.Outputs {
		if err := os.WriteFile(e.table.Expand(out.Path), e.outputContent, 0o644); err != nil {
			return nil, nil, err
		}
		events = append(events, sandbox.RawEvent{Path: e.table.Expand(out.Path), Kind: sandbox.AccessRead})
	}
	return events, nil, nil
}

func newTestEngine(t *testing.T, table *pathtable.Table, executor app.Executor) *app.Engine {
	t.Helper()
	resolver := observed.NewResolver(table, nil, nil, observed.OSProbe, 0)
	proc := observed.NewProcessor(table, resolver, app.RealDirectoryLister{Table: table}, app.FileHasher{}, nil)
	casDir := t.TempDir()
	cas := app.LocalCAS{Root: casDir}
	return app.NewEngine(table, proc, cas, cas, executor, logging.Noop())
}

func runOnce(t *testing.T, engine *app.Engine, id string) *pip.RunnablePip {
	t.Helper()
	results := make(chan *pip.RunnablePip, 1)
	d := dispatcher.New(dispatcher.Config{
		Handlers: engine.Handlers(context.Background()),
		Logger:   logging.Noop(),
	})
	p := pip.New(id)
	d.Enqueue(dispatcher.StageCacheLookup, p)
	d.SetFinalized()
	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	results <- p
	close(results)
	return <-results
}

// TestEngineCacheHitSkipsReexecution drives the same target through the
// engine twice: the first pass is a cold run (cache miss, real
// execution); the second must hit the cache-lookup path and skip
// Executor.Run entirely, per spec.md §2's control flow.
func TestEngineCacheHitSkipsReexecution(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	table := pathtable.New()

	inputPath := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(inputPath, []byte("hello"), 0o644); err != nil {
		t.Fatalf("seeding input: %v", err)
	}
	outputPath := filepath.Join(dir, "out.txt")

	executor := &scriptedExecutor{table: table, outputContent: []byte("built")}
	engine := newTestEngine(t, table, executor)

	target := &app.Target{
		ID:      "target-1",
		Command: nil,
		Dir:     dir,
		Inputs:  []pathtable.FileArtifact{{Path: table.Intern(inputPath)}},
		Outputs: []pathtable.FileArtifact{{Path: table.Intern(outputPath)}},
	}
	engine.Register(target)

	first := runOnce(t, engine, "target-1")
	if first.State() != pip.Completed {
		t.Fatalf("expected first run to complete, got state %v", first.State())
	}
	if executor.calls != 1 {
		t.Fatalf("expected exactly one execution on the cold run, got %d", executor.calls)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("reading materialized output: %v", err)
	}
	if string(got) != "built" {
		t.Fatalf("expected materialized output %q, got %q", "built", got)
	}

	second := runOnce(t, engine, "target-1")
	if second.State() != pip.Completed {
		t.Fatalf("expected second run to complete, got state %v", second.State())
	}
	if executor.calls != 1 {
		t.Fatalf("expected the cache hit to skip re-execution, but Executor.Run was called %d times", executor.calls)
	}
}

// TestEngineCacheMissOnChangedInput confirms that changing a declared
// input's content invalidates the cache: the replayed observation's
// content hash no longer matches, so the strong fingerprint diverges and
// the engine re-executes.
func TestEngineCacheMissOnChangedInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	table := pathtable.New()

	inputPath := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(inputPath, []byte("v1"), 0o644); err != nil {
		t.Fatalf("seeding input: %v", err)
	}
	outputPath := filepath.Join(dir, "out.txt")

	executor := &scriptedExecutor{table: table, outputContent: []byte("built-v1")}
	engine := newTestEngine(t, table, executor)

	target := &app.Target{
		ID:      "target-2",
		Dir:     dir,
		Inputs:  []pathtable.FileArtifact{{Path: table.Intern(inputPath)}},
		Outputs: []pathtable.FileArtifact{{Path: table.Intern(outputPath)}},
	}
	engine.Register(target)

	if p := runOnce(t, engine, "target-2"); p.State() != pip.Completed {
		t.Fatalf("expected first run to complete, got %v", p.State())
	}
	if executor.calls != 1 {
		t.Fatalf("expected one execution, got %d", executor.calls)
	}

	if err := os.WriteFile(inputPath, []byte("v2-changed"), 0o644); err != nil {
		t.Fatalf("rewriting input: %v", err)
	}
	executor.outputContent = []byte("built-v2")

	if p := runOnce(t, engine, "target-2"); p.State() != pip.Completed {
		t.Fatalf("expected second run to complete, got %v", p.State())
	}
	if executor.calls != 2 {
		t.Fatalf("expected a changed input to force re-execution, got %d calls", executor.calls)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("reading materialized output: %v", err)
	}
	if string(got) != "built-v2" {
		t.Fatalf("expected the re-executed output, got %q", got)
	}
}
