// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Verdict cell values. Rich tables color them.
const (
	CellPass = "PASS"
	CellFail = "FAIL"
)

// Table is a header plus rows of cells. Short rows are padded.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Table prints t.
//
// ModeRich draws a rounded lipgloss table, ModePlain aligns columns with
// tabs, and ModeJSON writes an array of objects keyed by header.
func (p *Printer) Table(t Table) error {
	rows := t.normalized()
	switch p.mode {
	case ModeJSON:
		out := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			obj := make(map[string]string, len(t.Headers))
			for i, h := range t.Headers {
				obj[h] = row[i]
			}
			out = append(out, obj)
		}
		return p.JSON(out)
	case ModePlain:
		tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		return tw.Flush()
	default:
		rendered := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(p.styles.border).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return p.styles.header
				}
				if row >= 0 && row < len(rows) && col < len(rows[row]) {
					switch rows[row][col] {
					case CellPass:
						return p.styles.cell.Foreground(ColorSuccess)
					case CellFail:
						return p.styles.cell.Foreground(ColorError).Bold(true)
					}
				}
				return p.styles.cell
			}).
			Headers(t.Headers...).
			Rows(rows...).
			String()
		_, err := fmt.Fprintln(p.w, rendered)
		return err
	}
}

func (t Table) normalized() [][]string {
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(t.Headers))
		copy(cells, row)
		rows[i] = cells
	}
	return rows
}
