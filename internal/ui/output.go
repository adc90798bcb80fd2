package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Table represents a simple text table
type Table struct {
	Headers []string
	Rows    [][]string

	// Style, when set, decorates a padded cell. It runs after widths are
	// computed so escape codes do not skew the alignment.
	Style func(col int, cell string) string
}

// NewTable creates a new table
func NewTable(headers ...string) *Table {
	return &Table{
		Headers: headers,
		Rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Print prints the table to stdout
func (t *Table) Print() {
	t.Fprint(os.Stdout)
}

// Fprint writes the table to w.
func (t *Table) Fprint(w io.Writer) {
	if len(t.Rows) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header
	headerParts := make([]string, len(t.Headers))
	for i, header := range t.Headers {
		headerParts[i] = padRight(header, widths[i])
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headerParts, "  "), " "))

	// Print rows
	for _, row := range t.Rows {
		rowParts := make([]string, len(row))
		for i, cell := range row {
			if i < len(widths) {
				rowParts[i] = padRight(cell, widths[i])
			} else {
				rowParts[i] = cell
			}
			if t.Style != nil {
				rowParts[i] = t.Style(i, rowParts[i])
			}
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(rowParts, "  "), " "))
	}
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

var stateColors = map[string]*color.Color{
	"running": color.New(color.FgGreen),
	"frozen":  color.New(color.FgCyan),
	"stopped": color.New(color.FgYellow),
	"unknown": color.New(color.FgRed),
}

// ColorState colors a (possibly padded) container state.
func ColorState(state string) string {
	if c, ok := stateColors[strings.TrimSpace(state)]; ok {
		return c.Sprint(state)
	}
	return state
}

// PrintJSON prints data as JSON
func PrintJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
