// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how a Printer renders.
type Mode string

const (
	// ModeAuto picks ModeRich on a terminal and ModePlain otherwise.
	ModeAuto Mode = "auto"

	// ModeRich uses colors, icons and bordered tables.
	ModeRich Mode = "rich"

	// ModePlain is ASCII only, suitable for logs and grep.
	ModePlain Mode = "plain"

	// ModeJSON emits machine-readable documents only.
	ModeJSON Mode = "json"
)

// EnvOutput overrides ModeAuto detection when set.
const EnvOutput = "STATSHARNESS_OUTPUT"

// ErrUnknownMode indicates an unrecognized output mode name.
var ErrUnknownMode = errors.New("unknown output mode")

// ParseMode converts a flag value to a Mode. Accepts the short forms "r",
// "p" and "j".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "rich", "r":
		return ModeRich, nil
	case "plain", "p", "text":
		return ModePlain, nil
	case "json", "j":
		return ModeJSON, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q (want auto, rich, plain or json)", ErrUnknownMode, s)
	}
}

type fdWriter interface {
	Fd() uintptr
}

// DetectMode resolves ModeAuto for w.
//
// STATSHARNESS_OUTPUT wins when it names a concrete mode. NO_COLOR forces
// ModePlain. Otherwise a terminal gets ModeRich and anything else, including
// pipes and buffers, gets ModePlain.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv(EnvOutput); env != "" {
		if m, err := ParseMode(env); err == nil && m != ModeAuto {
			return m
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	if f, ok := w.(fdWriter); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return ModeRich
		}
	}
	return ModePlain
}
