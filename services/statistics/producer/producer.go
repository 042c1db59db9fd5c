// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package producer generates one raw observation per exercise iteration.
//
// The shape of the raw data is agreed between a producer and the consumer
// it is paired with; the core never inspects it. Command producers return
// stdout as a string and fail on a nonzero exit status or any output on
// stderr, so partial data is never handed to a consumer.
//
// # Variants
//
//   - HostCommand: runs a shell command on the local host
//   - SSHCommand: runs a command through an Executor, usually an SSHConnection
//   - Func: calls a Go function, optionally with bound arguments
//   - Paced: spaces the calls of another producer with a rate limiter
package producer

import (
	"context"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNonZeroExit indicates a command exited with a nonzero status.
	ErrNonZeroExit = errors.New("command exited with nonzero status")

	// ErrUnexpectedStderr indicates a command wrote to stderr.
	ErrUnexpectedStderr = errors.New("command wrote to stderr")

	// ErrEmptyCommand indicates a command producer without a command.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrNilFunc indicates a Func producer without a function.
	ErrNilFunc = errors.New("producer function is nil")

	// ErrNilExecutor indicates an SSHCommand without an executor.
	ErrNilExecutor = errors.New("ssh executor is nil")
)

// CommandError describes a failed command run.
type CommandError struct {
	// Command is the command line that was run.
	Command string

	// ExitCode is the exit status, or -1 when unknown.
	ExitCode int

	// Stdout and Stderr hold the captured output.
	Stdout string
	Stderr string

	// Err is ErrNonZeroExit, ErrUnexpectedStderr or a transport error.
	Err error
}

// Error implements error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed (exit %d): %v", e.Command, e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// checkResult applies the command failure rules shared by every command
// producer.
func checkResult(command string, res ExecResult) error {
	switch {
	case res.ExitCode != 0:
		return &CommandError{Command: command, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: ErrNonZeroExit}
	case res.Stderr != "":
		return &CommandError{Command: command, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: ErrUnexpectedStderr}
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Producer
// -----------------------------------------------------------------------------

// Producer generates one raw observation.
type Producer interface {
	// Produce returns raw data for one iteration. Implementations should
	// honor ctx cancellation where they block.
	Produce(ctx context.Context) (any, error)
}

// ProducerFunc adapts a plain function to Producer.
type ProducerFunc func(ctx context.Context) (any, error)

// Produce implements Producer.
func (f ProducerFunc) Produce(ctx context.Context) (any, error) {
	return f(ctx)
}

// Func calls a Go function, optionally with arguments bound at creation.
type Func struct {
	fn   func(ctx context.Context, args ...any) (any, error)
	args []any
}

// NewFunc returns a producer calling fn.
func NewFunc(fn func(ctx context.Context) (any, error)) *Func {
	if fn == nil {
		return &Func{}
	}
	return &Func{fn: func(ctx context.Context, _ ...any) (any, error) { return fn(ctx) }}
}

// NewFuncWithArgs returns a producer calling fn with args on every call.
// args are copied.
//
// Example:
//
//	p := producer.NewFuncWithArgs(func(ctx context.Context, args ...any) (any, error) {
//	    return rand.IntN(args[0].(int)), nil
//	}, 100)
func NewFuncWithArgs(fn func(ctx context.Context, args ...any) (any, error), args ...any) *Func {
	return &Func{fn: fn, args: append([]any(nil), args...)}
}

// Produce implements Producer.
func (f *Func) Produce(ctx context.Context) (any, error) {
	if f.fn == nil {
		return nil, ErrNilFunc
	}
	return f.fn(ctx, f.args...)
}

var (
	_ Producer = ProducerFunc(nil)
	_ Producer = (*Func)(nil)
)
