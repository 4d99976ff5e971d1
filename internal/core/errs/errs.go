// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package errs defines the engine's error taxonomy: UserError,
// ProviderError, ConfigError, and InternalError. Each kind carries an
// exit-code hint so the CLI entrypoint can translate a returned error
// into a process exit code without re-classifying it, and each wraps
// its cause with github.com/pkg/errors so a %+v format prints a stack
// trace back to the originating call site.
package errs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Exit-code hints, per the taxonomy.
const (
	ExitUser     = 2
	ExitProvider = 3
	ExitConfig   = 2
	ExitInternal = 1
)

// UserError signals invalid input or a missing precondition the user
// must fix: no environment selected, unknown provider, tool not
// installed.
type UserError struct {
	Workspace string
	Operation string
	cause     error
}

// NewUserError builds a UserError for the given workspace/operation,
// wrapping cause with a stack trace.
func NewUserError(workspace, operation string, cause error) *UserError {
	return &UserError{Workspace: workspace, Operation: operation, cause: errors.WithStack(cause)}
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Operation, e.Workspace, e.cause)
}

func (e *UserError) Unwrap() error { return e.cause }

// ExitCode implements the exit-code hint contract.
func (e *UserError) ExitCode() int { return ExitUser }

// ConfigError is a UserError specialization for configuration
// parse/validation failures; it additionally carries the offending
// file path.
type ConfigError struct {
	*UserError
	Path string
}

// NewConfigError builds a ConfigError rooted at path.
func NewConfigError(path string, cause error) *ConfigError {
	return &ConfigError{
		UserError: NewUserError("", "load config", cause),
		Path:      path,
	}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.cause)
}

// ProviderError signals an external tool (terraform/pulumi) failure.
// It carries everything a user needs to reproduce the failing
// invocation outside infraglue, plus a CorrelationID so concurrent
// failures within the same execution level stay distinguishable in
// interleaved logs.
type ProviderError struct {
	Provider      string
	Workspace     string
	Command       string
	Stdout        string
	Stderr        string
	ExitStatus    int
	CorrelationID string
	cause         error
}

// NewProviderError builds a ProviderError, stamping a fresh
// correlation ID.
func NewProviderError(provider, workspace, command, stdout, stderr string, exitCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Workspace:     workspace,
		Command:       command,
		Stdout:        stdout,
		Stderr:        stderr,
		ExitStatus:    exitCode,
		CorrelationID: uuid.NewString(),
		cause:         errors.WithStack(cause),
	}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s: command %q exited %d: %v",
		e.CorrelationID, e.Workspace, e.Provider, e.Command, e.ExitStatus, e.cause)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// ExitCode implements the exit-code hint contract.
func (e *ProviderError) ExitCode() int { return ExitProvider }

// InternalError signals an unexpected invariant violation: a cycle
// reported with an empty path, a missing entry in a graph the caller
// believed was already validated. These indicate a bug in infraglue
// itself, not user input.
type InternalError struct {
	Message string
	cause   error
}

// NewInternalError builds an InternalError, wrapping cause with a
// stack trace via errors.Wrap.
func NewInternalError(message string, cause error) *InternalError {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, message)
	} else {
		wrapped = errors.New(message)
	}
	return &InternalError{Message: message, cause: wrapped}
}

func (e *InternalError) Error() string { return e.cause.Error() }

func (e *InternalError) Unwrap() error { return e.cause }

// ExitCode implements the exit-code hint contract.
func (e *InternalError) ExitCode() int { return ExitInternal }

// ExitCoder is implemented by every error kind in this package; CLI
// entrypoints use it to translate a returned error into a process
// exit code without re-classifying the error.
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitCodeOf returns the exit-code hint for err if it (or something it
// wraps) implements ExitCoder, and 1 otherwise.
func ExitCodeOf(err error) int {
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitInternal
}
