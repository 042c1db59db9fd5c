// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied names before they become storage
// keys, Influx tags or object paths.
//
// Names of measurements, statistics, pipe tags and environments are joined
// with '/' into BadgerDB keys and GCS object names, so a separator or
// whitespace inside a name would corrupt the key layout.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength bounds every validated name.
const MaxNameLength = 128

// namePattern allows letters, digits and _ . : % - with a letter, digit or
// underscore first. Covers "latency", "P99.9", "cpu_utilization_host_total"
// and "x86_64".
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:%\-]*$`)

// ErrInvalidName indicates a name that cannot be used as a key part.
var ErrInvalidName = errors.New("invalid name")

// ValidateName checks one name. kind labels the error, e.g. "measurement".
//
// Example:
//
//	if err := validation.ValidateName("statistic", stat); err != nil {
//	    return nil, err
//	}
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidName, kind)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: %s %.16q... exceeds %d characters", ErrInvalidName, kind, name, MaxNameLength)
	case !namePattern.MatchString(name):
		return fmt.Errorf("%w: %s %q (letters, digits and _ . : %% - only)", ErrInvalidName, kind, name)
	}
	return nil
}

// ValidateNames checks every name and lists all invalid ones in one error.
func ValidateNames(kind string, names []string) error {
	var invalid []string
	for _, n := range names {
		if ValidateName(kind, n) != nil {
			invalid = append(invalid, fmt.Sprintf("%q", n))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s %s", ErrInvalidName, kind, strings.Join(invalid, ", "))
	}
	return nil
}

// SanitizeName trims surrounding whitespace and validates the result.
func SanitizeName(kind, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateName(kind, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
