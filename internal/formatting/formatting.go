// Package formatting renders CLI output: rounded go-pretty tables with
// cyan headers, colored status words and YAML documents.
package formatting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Format is an output format accepted by the CLI --output flags.
type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates s against the supported formats.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table or yaml)", s)
	}
}

// NewTable creates a table writing to w with the standard style and the
// given column headers.
func NewTable(w io.Writer, headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if len(headers) > 0 {
		row := make(table.Row, len(headers))
		for i, h := range headers {
			row[i] = text.FgHiCyan.Sprint(h)
		}
		t.AppendHeader(row)
	}
	return t
}

// Status colors a status word: green for passed, red for failed, grey otherwise.
func Status(s string) string {
	switch s {
	case "passed", "ok":
		return text.FgGreen.Sprint(s)
	case "failed", "error":
		return text.FgRed.Sprint(s)
	default:
		return text.FgHiBlack.Sprint(s)
	}
}

// Muted renders s in grey, for placeholder values.
func Muted(s string) string {
	return text.FgHiBlack.Sprint(s)
}

// YAML writes v as a YAML document.
func YAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	_, err = w.Write(out)
	return err
}
