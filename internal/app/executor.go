package app

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/forgecore/forge/internal/pathtable"
	"github.com/forgecore/forge/internal/sandbox"
)

// RealExecutor runs a target's command locally via os/exec. Real sandbox
// instrumentation (ptrace/Detours-style syscall interception) is outside
// this repo's scope (spec.md §1 treats it as an external collaborator);
// RealExecutor reports the target's declared inputs and outputs as the
// raw-event set instead of intercepting actual syscalls, so C8's
// conversion and C4's processing still run against real file content —
// only the interception layer itself is a stand-in.
type RealExecutor struct {
	Table *pathtable.Table
}

// Run executes t.Command in t.Dir, then reports a read access for every
// declared input (consumed) and output (produced).
func (r RealExecutor) Run(ctx context.Context, t *Target) ([]sandbox.RawEvent, []byte, error) {
	events := make([]sandbox.RawEvent, 0, len(t.Inputs)+len(t.Outputs))
	for _, in := range t.Inputs {
		events = append(events, sandbox.RawEvent{Path: r.Table.Expand(in.Path), Kind: sandbox.AccessRead})
	}

	if len(t.Command) == 0 {
		return events, nil, nil
	}

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	cmd.Dir = t.Dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return events, output.Bytes(), fmt.Errorf("app: %s: %w", t.ID, err)
	}

	for _, out := range t.Outputs {
		events = append(events, sandbox.RawEvent{Path: r.Table.Expand(out.Path), Kind: sandbox.AccessRead})
	}
	return events, output.Bytes(), nil
}
