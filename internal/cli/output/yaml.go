package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// yamlIndentWidth matches the two-space indent dspdemo's table/JSON output
// already uses, so --output yaml lines up with the other two formats.
const yamlIndentWidth = 2

// PrintYAML writes data as YAML to w.
func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndentWidth)
	defer func() { _ = enc.Close() }()
	return enc.Encode(data)
}
