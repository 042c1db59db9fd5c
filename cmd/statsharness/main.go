// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command statsharness runs statistics exercises described by YAML scenarios,
// stores their reports and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitCriteria = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd, a := newRootCmd(os.Stdout, os.Stderr)
	err := rootCmd.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "Warning:", cerr)
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process status. A *criteria.Failed
// anywhere in the chain yields exitCriteria.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var failed *criteria.Failed
	if errors.As(err, &failed) {
		return exitCriteria
	}
	return exitError
}
