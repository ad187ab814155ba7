// Package coord implements the distributed orchestrator/worker
// coordination layer (C6): wire-level protocol over a long-lived
// bidirectional channel with reconnection, keep-alive, attachment
// handshake, and failure classification (spec.md §4.4).
package coord

import (
	"time"

	"github.com/google/uuid"

	"github.com/forgecore/forge/internal/pip"
)

// InvocationID identifies a single build session; every RPC carries one so
// cross-session traffic can be rejected (§6 Glossary "Invocation id").
type InvocationID uuid.UUID

// NewInvocationID mints a fresh invocation id for an orchestrator run.
func NewInvocationID() InvocationID { return InvocationID(uuid.New()) }

func (id InvocationID) String() string { return uuid.UUID(id).String() }

// Location is a worker's dynamically-announced network address.
type Location struct {
	IP   string
	Port int
}

// Hello is sent worker -> orchestrator to announce a dynamic worker's
// location (§4.4 "Message types").
type Hello struct {
	InvocationID InvocationID
	Location     Location
}

// AttachCompletionInfo is sent orchestrator -> worker as the reply to an
// accepted Hello (Orchestrator.Channel), completing the attachment
// handshake. No message carries attach completion from worker to
// orchestrator.
type AttachCompletionInfo struct {
	WorkerID       pip.WorkerID
	MaxConcurrency int
	WorkerCacheTTL time.Duration
}

// PipCompletionStatus mirrors the terminal lifecycle states a pip can
// report back to the orchestrator.
type PipCompletionStatus uint8

const (
	PipSucceeded PipCompletionStatus = iota
	PipFailed
	PipCancelled
)

// PipResult is one completed pip's outcome, as reported by a worker.
type PipResult struct {
	PipID         string
	Status        PipCompletionStatus
	ExitCode      int
	ExecutionTime time.Duration
}

// PipResultsInfo is streamed worker -> orchestrator (§4.4).
type PipResultsInfo struct {
	WorkerID         pip.WorkerID
	CompletedPips    []PipResult
	ForwardedEvents  []WorkerForwardedEvent
	HasBuildManifest bool
}

// ExecutionLogInfo is streamed worker -> orchestrator (§4.4).
type ExecutionLogInfo struct {
	WorkerID pip.WorkerID
	Events   [][]byte
}

// EventLevel is a forwarded event's severity (§4.4 "Event forwarding").
type EventLevel uint8

const (
	LevelVerbose EventLevel = iota
	LevelWarning
	LevelError
)

// ProcessExecutionError is the typed payload a process-execution error
// event carries (§4.4).
type ProcessExecutionError struct {
	SemiStableHash   uint64
	Description      string
	SpecPath         string
	WorkingDirectory string
	Exe              string
	CapturedOutput   string
	Paths            []string
	ExitCode         int
	ExecutionTime    time.Duration
}

// WorkerForwardedEvent is an event a worker forwards to the orchestrator
// for logging/diagnostics (§4.4).
type WorkerForwardedEvent struct {
	WorkerID pip.WorkerID
	Level    EventLevel
	Message  string
	Fields   map[string]string
	Process  *ProcessExecutionError // non-nil for process-execution errors
}

// Trailer names recognized on the wire (§6).
const (
	TrailerIsUnrecoverableError = "is-unrecoverable-error"
	TrailerInvocationIDMismatch = "invocation-id-mismatch"
)
