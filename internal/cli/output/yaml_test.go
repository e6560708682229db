package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAML(t *testing.T) {
	data := struct {
		Session string `yaml:"session"`
		State   string `yaml:"state"`
	}{
		Session: "t1",
		State:   "LoggedIn",
	}

	var buf bytes.Buffer
	err := PrintYAML(&buf, data)
	require.NoError(t, err)

	rendered := buf.String()
	assert.Contains(t, rendered, "session: t1")
	assert.Contains(t, rendered, "state: LoggedIn")
}

func TestPrintYAMLArray(t *testing.T) {
	data := []struct {
		Session string `yaml:"session"`
	}{
		{Session: "t1"},
		{Session: "t2"},
	}

	var buf bytes.Buffer
	err := PrintYAML(&buf, data)
	require.NoError(t, err)

	rendered := buf.String()
	assert.Contains(t, rendered, "- session: t1")
	assert.Contains(t, rendered, "- session: t2")
}
