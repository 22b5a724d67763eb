package executor

import (
	"bytes"
	"errors"
	"os/exec"
)

// CommandResult holds what an external command produced
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs external commands to completion
type CommandRunner interface {
	Run(name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands as local processes. A started process is never
// killed, it always runs to completion.
type ExecRunner struct{}

// Run executes name with args and collects both output streams. A non-zero
// exit is reported in ExitCode, not as an error.
func (ExecRunner) Run(name string, args ...string) (CommandResult, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
