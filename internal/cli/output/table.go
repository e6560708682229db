package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by dspdemo result types that know how to lay
// themselves out as a table; cmd/dspdemo's demoStats (a slice of labelled
// session.Stats snapshots) is the one concrete implementation.
type TableRenderer interface {
	// Headers returns the column headers.
	Headers() []string
	// Rows returns the data rows, one []string per table row.
	Rows() [][]string
}

// PrintTable writes data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := newBareTable(w)
	table.SetAutoFormatHeaders(true)
	table.SetHeader(data.Headers())
	for _, row := range data.Rows() {
		table.Append(row)
	}
	table.Render()
	return nil
}

// newBareTable builds a tablewriter.Table with the borderless, unpadded
// style dspdemo uses for both PrintTable and KeyValueTable.
func newBareTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// StatsTable is an ad-hoc TableRenderer for callers that don't want to
// define their own type, such as a quick debug dump of a session's
// negotiated options.
type StatsTable struct {
	headers []string
	rows    [][]string
}

// NewStatsTable builds an empty StatsTable with the given column headers.
func NewStatsTable(headers ...string) *StatsTable {
	return &StatsTable{headers: headers, rows: make([][]string, 0)}
}

// AddRow appends one data row.
func (t *StatsTable) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Headers implements TableRenderer.
func (t *StatsTable) Headers() []string {
	return t.headers
}

// Rows implements TableRenderer.
func (t *StatsTable) Rows() [][]string {
	return t.rows
}

// KeyValueTable prints pairs as a two-column, colon-separated table —
// dspdemo's equivalent of dumping a session's negotiated option set as
// "name: value" lines.
func KeyValueTable(w io.Writer, pairs [][2]string) error {
	table := newBareTable(w)
	table.SetColumnSeparator(":")
	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}
