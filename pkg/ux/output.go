// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders statsharness command output for terminals, scripts and
// machines.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette. Deep ocean teals with standard semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// plainIcon is the ASCII stand-in used in ModePlain.
func (i Icon) plain() string {
	switch i {
	case IconSuccess:
		return "[ok]"
	case IconWarning:
		return "[warn]"
	case IconError:
		return "[fail]"
	case IconPending:
		return "[-]"
	default:
		return "->"
	}
}

// styles is bound to one lipgloss renderer so color detection follows the
// printer's writer rather than os.Stdout.
type styles struct {
	title   lipgloss.Style
	bold    lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		bold:    r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(ColorSlate),
		success: r.NewStyle().Foreground(ColorSuccess),
		warning: r.NewStyle().Foreground(ColorWarning),
		err:     r.NewStyle().Foreground(ColorError),
		header:  r.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		border:  r.NewStyle().Foreground(ColorTealDeep),
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled output in one Mode.
//
// In ModeJSON every helper except JSON and Table is silent, so stdout stays a
// single parseable document.
//
// Thread Safety: not safe for concurrent use.
type Printer struct {
	w      io.Writer
	mode   Mode
	styles styles
}

// NewPrinter creates a printer for w. ModeAuto is resolved against w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == ModeAuto || mode == "" {
		mode = DetectMode(w)
	}
	return &Printer{
		w:      w,
		mode:   mode,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// Mode returns the resolved output mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) line(s string) {
	fmt.Fprintln(p.w, s)
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	switch p.mode {
	case ModeJSON:
	case ModePlain:
		p.line(text)
		p.line(strings.Repeat("=", len(text)))
	default:
		p.line(p.styles.title.Render(text))
	}
}

// Status prints text prefixed by icon.
func (p *Printer) Status(icon Icon, text string) {
	switch p.mode {
	case ModeJSON:
	case ModePlain:
		p.line(icon.plain() + " " + text)
	default:
		p.line(p.renderIcon(icon) + " " + text)
	}
}

// Success prints a success line.
func (p *Printer) Success(text string) { p.Status(IconSuccess, text) }

// Warning prints a warning line.
func (p *Printer) Warning(text string) { p.Status(IconWarning, text) }

// Error prints an error line.
func (p *Printer) Error(text string) { p.Status(IconError, text) }

// Muted prints secondary information.
func (p *Printer) Muted(text string) {
	switch p.mode {
	case ModeJSON:
	case ModePlain:
		p.line(text)
	default:
		p.line(p.styles.muted.Render(text))
	}
}

// KeyValues prints aligned "key: value" pairs in the given order.
func (p *Printer) KeyValues(pairs [][2]string) {
	if p.mode == ModeJSON {
		return
	}
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		key := fmt.Sprintf("%-*s", width+1, kv[0]+":")
		if p.mode == ModeRich {
			key = p.styles.bold.Render(key)
		}
		p.line(key + " " + kv[1])
	}
}

// JSON writes v as indented JSON regardless of mode.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) renderIcon(icon Icon) string {
	switch icon {
	case IconSuccess:
		return p.styles.success.Render(string(icon))
	case IconWarning:
		return p.styles.warning.Render(string(icon))
	case IconError:
		return p.styles.err.Render(string(icon))
	case IconPending:
		return p.styles.muted.Render(string(icon))
	default:
		return string(icon)
	}
}
