// Package pip defines the scheduler-internal representation of a runnable
// unit of work (§3 Runnable Pip) shared between the dispatcher (C5) and
// the distributed coordination layer (C6).
package pip

import "sync"

// Stage names a pipeline stage a pip moves through. The dispatcher owns
// the authoritative list of recognized stages (see package dispatcher);
// this type is just the label threaded through a RunnablePip's lifecycle.
type Stage string

// LifecycleState is a RunnablePip's position in the Created -> Queued ->
// Running -> ... -> {Completed, Failed, Cancelled} state machine (§3).
type LifecycleState uint8

const (
	Created LifecycleState = iota
	Queued
	Running
	Completed
	Failed
	Cancelled
)

// WorkerID identifies the worker a pip is (or was) assigned to. 0 is
// reserved for the local process (§3 Remote Worker Slot).
type WorkerID int32

// LocalWorker is the reserved id of the local, in-process worker.
const LocalWorker WorkerID = 0

// RunnablePip is a scheduler-internal record: pip identity, current stage,
// assigned worker, and lifecycle state. Safe for concurrent use; state
// transitions are serialized through its own mutex so that a single pip's
// transitions are always linear, matching the ordering guarantee in
// spec.md §5.
type RunnablePip struct {
	ID     string
	mu     sync.Mutex
	stage  Stage
	worker WorkerID
	state  LifecycleState
}

// New constructs a RunnablePip in the Created state, on LocalWorker.
func New(id string) *RunnablePip {
	return &RunnablePip{ID: id, state: Created, worker: LocalWorker}
}

// Stage returns the pip's current stage.
func (p *RunnablePip) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// State returns the pip's current lifecycle state.
func (p *RunnablePip) State() LifecycleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Worker returns the worker currently assigned to the pip.
func (p *RunnablePip) Worker() WorkerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worker
}

// AssignWorker binds the pip to a worker, valid at any point before it
// completes.
func (p *RunnablePip) AssignWorker(id WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.worker = id
}

// TransitionTo moves the pip into stage in the Queued state. It is the
// caller's (the dispatcher's) responsibility to only call this following a
// legal transition.
func (p *RunnablePip) TransitionTo(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.state = Queued
}

// MarkRunning records that the pip has been admitted into its current
// stage and started executing.
func (p *RunnablePip) MarkRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Running
}

// Finish records a terminal state: Completed, Failed, or Cancelled.
func (p *RunnablePip) Finish(state LifecycleState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// IsTerminal reports whether the pip has reached Completed, Failed, or
// Cancelled.
func (p *RunnablePip) IsTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Completed || p.state == Failed || p.state == Cancelled
}
