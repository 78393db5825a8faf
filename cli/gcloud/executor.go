package gcloud

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs provider commands. It returns an error only when the
// command could not be run to completion; a non-zero exit is reported
// through Result.ExitCode.
type Executor interface {
	Run(ctx context.Context, bin string, args ...string) (Result, error)
}

// ExecExecutor runs commands as local processes.
type ExecExecutor struct{}

// Run runs the command and captures its output.
func (ExecExecutor) Run(ctx context.Context, bin string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
