package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid names
		{"measurement", "latency", false},
		{"percentile", "P99.9", false},
		{"underscores", "cpu_utilization_host_total", false},
		{"environment", "x86_64", false},
		{"leading underscore", "_internal", false},
		{"percent", "loss%", false},
		{"max length", strings.Repeat("a", MaxNameLength), false},

		// Invalid names
		{"empty", "", true},
		{"slash", "lat/ency", true},
		{"space", "rtt avg", true},
		{"leading dot", ".hidden", true},
		{"leading dash", "-flag", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName("measurement", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v does not wrap ErrInvalidName", err)
			}
		})
	}
}

func TestValidateNames(t *testing.T) {
	if err := ValidateNames("tag", []string{"ping", "iperf3"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateNames("tag", []string{"ok", "bad tag", "a/b"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"bad tag"`) || !strings.Contains(msg, `"a/b"`) {
		t.Errorf("error should list every invalid name: %s", msg)
	}
	if strings.Contains(msg, `"ok"`) {
		t.Errorf("error should not list valid names: %s", msg)
	}
}

func TestSanitizeName(t *testing.T) {
	got, err := SanitizeName("environment", "  arm64 \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "arm64" {
		t.Errorf("SanitizeName() = %q, want %q", got, "arm64")
	}

	if _, err := SanitizeName("environment", "   "); err == nil {
		t.Error("expected error for blank name")
	}
}
