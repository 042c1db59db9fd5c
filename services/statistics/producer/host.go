// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package producer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const waitDelay = 500 * time.Millisecond

// HostCommand runs a shell command on the local host.
type HostCommand struct {
	// Command is passed to `sh -c`.
	Command string

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// Env is appended to the inherited environment as KEY=VALUE pairs.
	Env []string

	// Timeout bounds a single run. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// NewHostCommand returns a producer running command with `sh -c`.
func NewHostCommand(command string) *HostCommand {
	return &HostCommand{Command: command}
}

// Produce runs the command and returns its stdout.
//
// Outputs:
//
//	any - stdout as a string.
//	error - *CommandError wrapping ErrNonZeroExit or ErrUnexpectedStderr,
//	        ErrEmptyCommand, or the context error on timeout/cancellation.
func (h *HostCommand) Produce(ctx context.Context) (any, error) {
	if h.Command == "" {
		return nil, ErrEmptyCommand
	}

	runCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", h.Command)
	cmd.Dir = h.Dir
	// Children of the shell may hold stdout open after it is killed.
	cmd.WaitDelay = waitDelay
	if len(h.Env) > 0 {
		cmd.Env = append(cmd.Environ(), h.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() != nil {
		return nil, &CommandError{Command: h.Command, ExitCode: -1, Stderr: stderr.String(), Err: runCtx.Err()}
	}

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &CommandError{Command: h.Command, ExitCode: -1, Stderr: res.Stderr, Err: err}
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if err := checkResult(h.Command, res); err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

var _ Producer = (*HostCommand)(nil)
