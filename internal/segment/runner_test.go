package segment

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

// TestExecRunnerStreamsMergedOutput runs a real shell command and checks
// line streaming plus stderr merging.
func TestExecRunnerStreamsMergedOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	runner := &execRunner{}
	var lines []string
	result, err := runner.Run(context.Background(), t.TempDir(), "sh",
		[]string{"-c", "echo out; echo err 1>&2"},
		func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if len(lines) != 2 {
		t.Fatalf("streamed lines = %v, want 2", lines)
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "err") {
		t.Fatalf("output = %q, want both streams", result.Output)
	}
}

// TestExecRunnerReportsExitCode checks non-zero exits surface code and error.
func TestExecRunnerReportsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	runner := &execRunner{}
	result, err := runner.Run(context.Background(), t.TempDir(), "sh",
		[]string{"-c", "echo boom; exit 3"}, nil)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Output, "boom") {
		t.Fatalf("output = %q, want transcript before failure", result.Output)
	}
}
