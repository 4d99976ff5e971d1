// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package executil shells out to the terraform and pulumi binaries the
// provider adapters drive. Every invocation is tagged with a
// correlation ID logged at start and completion and returned in
// Result.CorrelationID. That ID is not copied onto the
// errs.ProviderError an adapter builds from a failed invocation, which
// carries its own separately generated ID.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"infraglue/pkg/logging"
)

// Runner executes external commands.
type Runner interface {
	// Run executes a command and returns the buffered result. Returns
	// an error if the command fails (non-zero exit code) or if
	// execution fails outright.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// RunStream executes a command and streams combined stdout/stderr
	// to output as it is produced.
	RunStream(ctx context.Context, cmd Command, output io.Writer) error
}

// Command represents a command to execute.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin io.Reader
}

// Result contains the result of a command execution. CorrelationID
// identifies this specific invocation in the logs, independent of any
// CorrelationID a caller later stamps on an errs.ProviderError.
type Result struct {
	ExitCode      int
	Stdout        []byte
	Stderr        []byte
	CorrelationID string
}

// runner is the default Runner implementation.
type runner struct {
	logger logging.Logger
}

// NewRunner creates a Runner that logs each subprocess invocation
// through logger. A nil logger discards all logging.
func NewRunner(logger logging.Logger) Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &runner{logger: logger}
}

// NewCommand creates a new Command with the given name and arguments.
func NewCommand(name string, args ...string) Command {
	return Command{
		Name: name,
		Args: args,
	}
}

// buildExecCmd applies Dir/Env/Stdin onto an *exec.Cmd, merging Env
// over the process environment rather than replacing it.
func buildExecCmd(ctx context.Context, cmd Command) *exec.Cmd {
	//nolint:gosec // this package is designed to execute arbitrary commands;
	// validation is the caller's responsibility.
	execCmd := exec.CommandContext(ctx, cmd.Name, cmd.Args...)

	if cmd.Dir != "" {
		execCmd.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		execCmd.Env = os.Environ()
		for k, v := range cmd.Env {
			execCmd.Env = append(execCmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if cmd.Stdin != nil {
		execCmd.Stdin = cmd.Stdin
	}
	return execCmd
}

// Run executes a command and returns the buffered result.
func (r *runner) Run(ctx context.Context, cmd Command) (*Result, error) { //nolint:gocritic // hugeParam: intentional for immutability
	correlationID := uuid.NewString()
	log := r.logger.WithFields(logging.NewField("correlationId", correlationID))
	log.Debug("executing command", logging.NewField("command", cmd.Name), logging.NewField("args", cmd.Args), logging.NewField("dir", cmd.Dir))

	execCmd := buildExecCmd(ctx, cmd)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := &Result{
		Stdout:        stdout.Bytes(),
		Stderr:        stderr.Bytes(),
		CorrelationID: correlationID,
	}
	if execCmd.ProcessState != nil {
		result.ExitCode = execCmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		log.Warn("command cancelled", logging.NewField("error", ctx.Err().Error()))
		return result, fmt.Errorf("command cancelled: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Warn("command exited non-zero", logging.NewField("exitCode", result.ExitCode), logging.NewField("stderr", stderr.String()))
			return result, fmt.Errorf("command failed with exit code %d: %w", result.ExitCode, err)
		}
		log.Error("command execution failed", logging.NewField("error", err.Error()))
		return result, fmt.Errorf("executing command: %w", err)
	}

	log.Debug("command completed", logging.NewField("exitCode", result.ExitCode))
	return result, nil
}

// RunStream executes a command and streams combined stdout/stderr to
// output as it is produced. Used by callers that want to forward
// terraform/pulumi output live instead of buffering it whole.
func (r *runner) RunStream(ctx context.Context, cmd Command, output io.Writer) error { //nolint:gocritic // hugeParam: intentional for immutability
	correlationID := uuid.NewString()
	log := r.logger.WithFields(logging.NewField("correlationId", correlationID))
	log.Debug("streaming command", logging.NewField("command", cmd.Name), logging.NewField("args", cmd.Args), logging.NewField("dir", cmd.Dir))

	execCmd := buildExecCmd(ctx, cmd)
	execCmd.Stdout = output
	execCmd.Stderr = output

	err := execCmd.Run()

	if ctx.Err() != nil {
		log.Warn("streamed command cancelled", logging.NewField("error", ctx.Err().Error()))
		return fmt.Errorf("command cancelled: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Warn("streamed command exited non-zero", logging.NewField("exitCode", exitErr.ExitCode()))
			return fmt.Errorf("command failed with exit code %d: %w", exitErr.ExitCode(), err)
		}
		log.Error("streamed command execution failed", logging.NewField("error", err.Error()))
		return fmt.Errorf("executing command: %w", err)
	}

	log.Debug("streamed command completed")
	return nil
}
