// Package output renders dspdemo's results — session.Stats snapshots,
// submit/abort outcomes — as a table, JSON, or YAML, depending on the
// --output flag.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format selects how dspdemo renders a command's result.
type Format string

const (
	// FormatTable renders a TableRenderer as an aligned table.
	FormatTable Format = "table"
	// FormatJSON renders data as indented JSON.
	FormatJSON Format = "json"
	// FormatYAML renders data as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses the --output flag value into a Format, defaulting to
// table on an empty string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// ansiCode is one of the color escapes Printer uses for status lines; it
// mirrors the palette internal/logger's ColorTextHandler applies to log
// levels, so a dspdemo run's own status lines match its log output.
type ansiCode string

const (
	ansiGreen  ansiCode = "\033[32m"
	ansiRed    ansiCode = "\033[31m"
	ansiYellow ansiCode = "\033[33m"
	ansiReset  ansiCode = "\033[0m"
)

// Printer writes a command's result to out in the configured Format, plus
// colored status lines (Success/Error/Warning) independent of that format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter builds a Printer writing to out.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// DefaultPrinter writes to stdout in table format with color enabled.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, FormatTable, true)
}

// Format reports the printer's configured Format.
func (p *Printer) Format() Format {
	return p.format
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// ColorEnabled reports whether status lines are colorized.
func (p *Printer) ColorEnabled() bool {
	return p.color
}

// Print renders data in the printer's configured format. Table format
// requires data to implement TableRenderer (session.Stats snapshots do, via
// cmd/dspdemo's demoStats adapter); anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// Println writes args followed by a newline, uncolored.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// Printf writes a formatted message, uncolored.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Success prints msg in green when color is enabled.
func (p *Printer) Success(msg string) { p.status(msg, ansiGreen) }

// Error prints msg in red when color is enabled.
func (p *Printer) Error(msg string) { p.status(msg, ansiRed) }

// Warning prints msg in yellow when color is enabled.
func (p *Printer) Warning(msg string) { p.status(msg, ansiYellow) }

// status writes msg wrapped in code when p.color is set, plain otherwise;
// Success/Error/Warning are thin callers over this one code path.
func (p *Printer) status(msg string, code ansiCode) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "%s%s%s\n", code, msg, ansiReset)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
