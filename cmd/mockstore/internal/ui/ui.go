// Package ui provides console output helpers for mockstore
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles for consistent UI
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// UI writes styled messages to an output and an error stream
type UI struct {
	out io.Writer
	err io.Writer
}

// New creates a UI writing to out and err
func New(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

// Success prints a success message
func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

// Error prints an error message to the error stream
func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

// Warning prints a warning message
func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

// Info prints an info message
func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render("ℹ "+msg))
}

// Subtle prints a muted message
func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

// KeyValue prints an indented key-value pair
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Table collects rows and renders them with aligned columns
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given headers
func (ui *UI) NewTable(headers ...string) *Table {
	return &Table{ui: ui, headers: headers}
}

// AddRow adds a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	fmt.Fprintln(t.ui.out, headerStyle.Render(t.line(t.headers, widths)))
	for _, row := range t.rows {
		fmt.Fprintln(t.ui.out, t.line(row, widths))
	}
}

func (t *Table) line(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		parts[i] = padRight(cell, widths[i])
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// padRight pads a string to the right with spaces
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
