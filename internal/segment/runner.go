package segment

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// LineSink receives one line of combined subprocess output as soon as it is
// read, letting callers observe progress while the process is still running.
type LineSink func(line string)

// commandResult is an internal process execution response. Output holds the
// merged stdout/stderr transcript.
type commandResult struct {
	Output   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args []string, onLine LineSink) (commandResult, error)
}

// execRunner executes commands via os/exec with merged, line-streamed output.
type execRunner struct{}

// Run spawns one command, streams each output line to onLine, and waits for
// exit. Stderr is merged into stdout so the transcript matches what a
// terminal user would see.
func (r *execRunner) Run(ctx context.Context, dir, name string, args []string, onLine LineSink) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, err
	}

	var transcript strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		transcript.WriteString(line)
		transcript.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}

	waitErr := cmd.Wait()
	result := commandResult{
		Output:   transcript.String(),
		ExitCode: 0,
	}
	if waitErr != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, waitErr
	}

	return result, nil
}
