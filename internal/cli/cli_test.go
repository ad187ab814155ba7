package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRunBuildCompletesAllTargets(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	app := New(&stdout, &stderr)
	app.Options.Quiet = true
	app.Options.MaxParallel = 2
	app.logger = noopLogger{}

	if err := app.runBuild(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "a") || !strings.Contains(out, "b") || !strings.Contains(out, "c") {
		t.Errorf("expected all target names in output, got %q", out)
	}
	if !strings.Contains(out, "Finished") {
		t.Errorf("expected a completion summary line, got %q", out)
	}
}

func TestRunBuildNoTargets(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	app := New(&stdout, &stderr)

	if err := app.runBuild(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "No targets") {
		t.Errorf("expected a no-targets message, got %q", stdout.String())
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Sync() error          { return nil }
