package runner

import (
	"context"
	"os/exec"
)

// Executor abstracts external command execution for testability.
// This allows tests to record tool invocations without executing them.
type Executor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Output executes a command and returns only its standard output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CLIExecutor executes commands using os/exec.
type CLIExecutor struct {
	// Dir is the working directory of every command; empty means the current one.
	Dir string
}

// NewCLIExecutor creates a new CLI command executor.
func NewCLIExecutor() *CLIExecutor {
	return &CLIExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLIExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	return cmd.CombinedOutput()
}

// Output executes a command and returns only its standard output.
func (e *CLIExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	return cmd.Output()
}
