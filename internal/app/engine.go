// Package app assembles the dispatcher (C5), observed-input processor
// (C4), sandbox adapter (C8), and content-session client (C7) into the
// actual build control flow spec.md §2 describes: CacheLookup ->
// ChooseWorker -> Execute -> Materialize. The cli package is kept thin
// and defers to Engine for everything past flag parsing.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/forgecore/forge/internal/contentsession"
	"github.com/forgecore/forge/internal/dispatcher"
	"github.com/forgecore/forge/internal/fingerprint"
	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/observed"
	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/pip"
	"github.com/forgecore/forge/internal/sandbox"
	"github.com/forgecore/forge/internal/vsohash"
)

// Target is the build-graph descriptor for one pip: its command and its
// declared static dependencies/outputs. pip.RunnablePip carries only a
// string ID plus its scheduling state, so Engine keeps Targets in a side
// table keyed by that ID (§3 Runnable Pip deliberately excludes the richer descriptor
// fields the dispatcher itself never needs).
type Target struct {
	ID                         string
	Command                    []string
	Dir                        string
	Inputs                     []pathtable.FileArtifact
	Outputs                    []pathtable.FileArtifact
	AllowUndeclaredSourceReads bool

	weak fingerprint.WeakFingerprint
}

// Executor runs one target's command and reports the raw sandbox events
// it produced. Actual sandbox instrumentation (ptrace/Detours-style
// syscall interception) is an external collaborator spec.md leaves
// unspecified beyond "a sandbox reports raw access events"; Executor is
// the seam an implementation of that plugs into.
type Executor interface {
	Run(ctx context.Context, t *Target) (events []sandbox.RawEvent, stdout []byte, err error)
}

// producedOutput is one output artifact of a fresh run, already ingested
// into the content store under its hash.
type producedOutput struct {
	Path pathtable.Path
	Hash vsohash.ContentHash
}

// cacheEntry is one memoized fresh-run outcome for a weak fingerprint:
// the observations that run reported (the "prior path-set" §2's control
// flow re-feeds through C4 during a later cache lookup), the strong
// fingerprint they hashed to, and the outputs that strong fingerprint
// corresponds to.
type cacheEntry struct {
	observations []observed.Observation
	strong       fingerprint.StrongFingerprint
	outputs      []producedOutput
}

// ContentWriter is the capability to add newly produced content to
// whatever backs Session. It is separate from contentsession.Session
// because ingesting a pip's own output is a write path the spec's C7
// capability set does not cover (Pin/BulkPin/Open/Place all assume the
// content already exists remotely).
type ContentWriter interface {
	Put(data []byte) (vsohash.ContentHash, error)
}

// Engine wires C4/C7/C8 behind dispatcher.Handler functions for
// StageCacheLookup, StageChooseWorkerCpu, StageCPU, and StageMaterialize.
type Engine struct {
	Table     *pathtable.Table
	Processor *observed.Processor
	Adapter   sandbox.Adapter
	Session   contentsession.Session
	Writer    ContentWriter
	Executor  Executor
	Logger    logging.Logger

	mu      sync.Mutex
	targets map[string]*Target
	memo    map[fingerprint.WeakFingerprint][]cacheEntry
	pending map[string]cacheEntry
}

// NewEngine constructs an Engine. table must be the same pathtable.Table
// the processor and adapter were built against.
func NewEngine(table *pathtable.Table, proc *observed.Processor, session contentsession.Session, writer ContentWriter, executor Executor, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Engine{
		Table:     table,
		Processor: proc,
		Adapter:   sandbox.Adapter{Table: table},
		Session:   session,
		Writer:    writer,
		Executor:  executor,
		Logger:    logger,
		targets:   make(map[string]*Target),
		memo:      make(map[fingerprint.WeakFingerprint][]cacheEntry),
		pending:   make(map[string]cacheEntry),
	}
}

// Register derives t's weak fingerprint (§3 Weak Fingerprint: command and
// declared static inputs, nothing dynamically observed) and makes it
// available to the engine's handlers under t.ID.
func (e *Engine) Register(t *Target) fingerprint.WeakFingerprint {
	fields := make([][]byte, 0, len(t.Command)+len(t.Inputs)+1)
	for _, c := range t.Command {
		fields = append(fields, []byte(c))
	}
	fields = append(fields, []byte(t.Dir))
	for _, in := range t.Inputs {
		fields = append(fields, []byte(e.Table.Expand(in.Path)))
	}
	t.weak = fingerprint.WeakFingerprintOf(fields...)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[t.ID] = t
	return t.weak
}

func (e *Engine) targetFor(id string) (*Target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[id]
	if !ok {
		return nil, fmt.Errorf("app: no target registered for pip %q", id)
	}
	return t, nil
}

func (e *Engine) descriptor(t *Target) observed.PipDescriptor {
	// Declared outputs count as declared files too: the executor reports a
	// read of every output the command produced.
	declared := append(append([]pathtable.FileArtifact(nil), t.Inputs...), t.Outputs...)
	return observed.PipDescriptor{
		DeclaredFileDependencies:   declared,
		AllowUndeclaredSourceReads: t.AllowUndeclaredSourceReads,
		Weak:                       t.weak,
	}
}

// Handlers returns the four dispatcher.Handler functions that implement
// spec.md §2's control flow, closed over ctx for the calls (content
// session placement, process execution) that need one.
func (e *Engine) Handlers(ctx context.Context) map[dispatcher.StageName]dispatcher.Handler {
	return map[dispatcher.StageName]dispatcher.Handler{
		dispatcher.StageCacheLookup:     e.cacheLookup,
		dispatcher.StageChooseWorkerCpu: e.chooseWorker,
		dispatcher.StageCPU:             e.execute(ctx),
		dispatcher.StageMaterialize:     e.materialize(ctx),
	}
}

// cacheLookup replays every memoized path-set recorded for the target's
// weak fingerprint through the observed-input processor in cache-lookup
// mode. A strong-fingerprint match is a cache hit: the pip advances
// straight to Materialize with the stored outputs. No match (including no
// entries at all) falls through to worker selection and execution.
func (e *Engine) cacheLookup(p *pip.RunnablePip) (dispatcher.StageName, bool, error) {
	t, err := e.targetFor(p.ID)
	if err != nil {
		return "", true, err
	}
	desc := e.descriptor(t)

	e.mu.Lock()
	entries := append([]cacheEntry(nil), e.memo[t.weak]...)
	e.mu.Unlock()

	for _, entry := range entries {
		result, err := e.Processor.Process(desc, entry.observations, true)
		if err != nil {
			return "", true, err
		}
		if result.Status == observed.StatusSuccess && result.StrongFingerprint == entry.strong {
			e.mu.Lock()
			e.pending[p.ID] = entry
			e.mu.Unlock()
			e.Logger.Debug("cache hit for %s", p.ID)
			return dispatcher.StageMaterialize, false, nil
		}
	}
	return dispatcher.StageChooseWorkerCpu, false, nil
}

// chooseWorker binds the pip to the local worker. Binding to a remote
// slot instead is the province of C6 (internal/coord), exercised
// separately by the distributed serve/worker commands; a local build
// never needs to occupy a coordinator-managed slot.
func (e *Engine) chooseWorker(p *pip.RunnablePip) (dispatcher.StageName, bool, error) {
	p.AssignWorker(pip.LocalWorker)
	return dispatcher.StageCPU, false, nil
}

// execute runs the target, converts its raw sandbox events through C8,
// processes the resulting observations through C4 in fresh-run mode, and
// ingests every declared output into the content store, memoizing the
// outcome under the target's weak fingerprint for future cache lookups.
func (e *Engine) execute(ctx context.Context) dispatcher.Handler {
	return func(p *pip.RunnablePip) (dispatcher.StageName, bool, error) {
		t, err := e.targetFor(p.ID)
		if err != nil {
			return "", true, err
		}

		events, _, err := e.Executor.Run(ctx, t)
		if err != nil {
			return "", true, err
		}
		observations := e.Adapter.Convert(events)

		result, err := e.Processor.Process(e.descriptor(t), observations, false)
		if err != nil {
			return "", true, err
		}
		if result.Status != observed.StatusSuccess {
			return "", true, fmt.Errorf("app: %s: %s", p.ID, result.Diagnostic)
		}

		outputs := make([]producedOutput, 0, len(t.Outputs))
		for _, out := range t.Outputs {
			hash, err := e.ingest(out.Path)
			if err != nil {
				return "", true, fmt.Errorf("app: %s: ingesting %s: %w", p.ID, e.Table.Expand(out.Path), err)
			}
			outputs = append(outputs, producedOutput{Path: out.Path, Hash: hash})
		}

		entry := cacheEntry{observations: observations, strong: result.StrongFingerprint, outputs: outputs}
		e.mu.Lock()
		e.memo[t.weak] = append(e.memo[t.weak], entry)
		e.pending[p.ID] = entry
		e.mu.Unlock()

		return dispatcher.StageMaterialize, false, nil
	}
}

// ingest reads path's current on-disk content and hands it to the
// content writer, returning the hash under which it is now stored.
func (e *Engine) ingest(path pathtable.Path) (vsohash.ContentHash, error) {
	data, err := os.ReadFile(e.Table.Expand(path))
	if err != nil {
		return vsohash.ContentHash{}, err
	}
	return e.Writer.Put(data)
}

// materialize places every output recorded for the pip's pending cache
// entry (fresh or replayed) via the content-session Place capability
// (§4.5), finishing the pip on success.
func (e *Engine) materialize(ctx context.Context) dispatcher.Handler {
	return func(p *pip.RunnablePip) (dispatcher.StageName, bool, error) {
		e.mu.Lock()
		entry, ok := e.pending[p.ID]
		delete(e.pending, p.ID)
		e.mu.Unlock()
		if !ok {
			return "", true, fmt.Errorf("app: %s: materialize called with no pending cache entry", p.ID)
		}

		for _, out := range entry.outputs {
			dest := e.Table.Expand(out.Path)
			status, err := e.Session.PlaceFile(ctx, out.Hash, dest, contentsession.AccessReadOnly, contentsession.ReplaceAlways, contentsession.RealizationCopy)
			if err != nil {
				return "", true, fmt.Errorf("app: %s: placing %s: %w", p.ID, dest, err)
			}
			if status != contentsession.Success && status != contentsession.AlreadyExists {
				return "", true, fmt.Errorf("app: %s: placing %s: %s", p.ID, dest, status)
			}
		}

		p.Finish(pip.Completed)
		return "", true, nil
	}
}
