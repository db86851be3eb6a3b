package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUI_Streams(t *testing.T) {
	var out, errOut bytes.Buffer
	u := New(&out, &errOut)

	u.Success("ready")
	u.Info("starting")
	u.Warning("slow")
	u.Subtle("hint")
	u.KeyValue("Address", "127.0.0.1:27017")
	u.Error("failed")

	assert.Contains(t, out.String(), "ready")
	assert.Contains(t, out.String(), "starting")
	assert.Contains(t, out.String(), "slow")
	assert.Contains(t, out.String(), "hint")
	assert.Contains(t, out.String(), "127.0.0.1:27017")
	assert.NotContains(t, out.String(), "failed")
	assert.Contains(t, errOut.String(), "failed")
}

func TestTable_Render(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, &out)

	table := u.NewTable("VERSION", "ENGINE")
	table.AddRow("3.0.15", "inMemoryExperiment")
	table.AddRow("4.4.6")
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VERSION")
	assert.Equal(t, "3.0.15   inMemoryExperiment", lines[1])
	assert.Equal(t, "4.4.6", lines[2])
}

func TestTable_NoHeaders(t *testing.T) {
	var out bytes.Buffer
	New(&out, &out).NewTable().Render()
	assert.Empty(t, out.String())
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab  ", padRight("ab", 4))
	assert.Equal(t, "abcdef", padRight("abcdef", 4))
}
