package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestTableAlignsColumns(t *testing.T) {
	table := NewTable("NAME", "STATE", "PID")
	table.AddRow("web", "running", "4242")
	table.AddRow("database", "stopped", "-1")

	var buf bytes.Buffer
	table.Fprint(&buf)

	assert.Equal(t, "NAME      STATE    PID\n"+
		"web       running  4242\n"+
		"database  stopped  -1\n", buf.String())
}

func TestTableStyleKeepsAlignment(t *testing.T) {
	table := NewTable("NAME", "STATE")
	table.AddRow("web", "running")
	table.Style = func(col int, cell string) string {
		if col == 1 {
			return "<" + cell + ">"
		}
		return cell
	}

	var buf bytes.Buffer
	table.Fprint(&buf)
	assert.Equal(t, "NAME  STATE\nweb   <running>\n", buf.String())
}

func TestEmptyTablePrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	NewTable("NAME").Fprint(&buf)
	assert.Empty(t, buf.String())
}

func TestColorStateKeepsPadding(t *testing.T) {
	saved := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = saved }()

	assert.Equal(t, "running  ", ColorState("running  "))
	assert.Equal(t, "weird", ColorState("weird"))
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, false, false, true)
	l.Info("starting %s", "web")
	l.Debug("hidden")
	l.Warning("careful")
	assert.Equal(t, "[INFO] starting web\n[WARNING] careful\n", buf.String())

	buf.Reset()
	quiet := newLogger(&buf, true, true, true)
	quiet.Info("hidden")
	quiet.Success("hidden")
	quiet.Debug("shown")
	quiet.Error("failed")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"[DEBUG] shown", "[ERROR] failed"}, lines)
}
