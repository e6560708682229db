package output

import (
	"encoding/json"
	"io"
)

// jsonIndent is the indentation PrintJSON uses for --output json; dspdemo
// never emits compact JSON on that path, so it's a package constant rather
// than a parameter.
const jsonIndent = "  "

// PrintJSON writes data as indented JSON to w.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", jsonIndent)
	return enc.Encode(data)
}

// PrintJSONOneLine writes data as single-line JSON to w, for callers (log
// lines, one-row status pings) that don't want a multi-line block.
func PrintJSONOneLine(w io.Writer, data any) error {
	return json.NewEncoder(w).Encode(data)
}
