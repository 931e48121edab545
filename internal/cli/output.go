package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Output renders command results. Tables go to stdout as space-padded
// columns; --json switches to indented JSON of the raw API payload.
// Status and error messages go to stderr, keeping piped stdout
// machine-readable.
type Output struct {
	asJSON bool
	data   io.Writer
	status io.Writer
}

// NewOutput creates an Output writing to the process streams.
func NewOutput(asJSON bool) *Output {
	return &Output{asJSON: asJSON, data: os.Stdout, status: os.Stderr}
}

// Print renders headers+rows as an aligned table, or jsonData when in
// JSON mode.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.asJSON {
		o.JSON(jsonData)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	o.writeRow(headers, widths)
	for _, row := range rows {
		o.writeRow(row, widths)
	}
}

// writeRow pads every column but the last to its width, with a
// two-space gutter between columns.
func (o *Output) writeRow(cells []string, widths []int) {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(cell)
		if i < len(cells)-1 && len(cell) < widths[i] {
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
	}
	fmt.Fprintln(o.data, b.String())
}

// JSON renders v as indented JSON on stdout.
func (o *Output) JSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		o.Error(err.Error())
		return
	}
	fmt.Fprintln(o.data, string(data))
}

// Line writes one raw line to stdout.
func (o *Output) Line(s string) {
	fmt.Fprintln(o.data, s)
}

// Success writes a status message to stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.status, msg)
}

// Error writes an error message to stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.status, "Error: "+msg)
}
