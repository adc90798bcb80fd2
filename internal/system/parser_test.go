package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeMB(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "2000", want: 2000},
		{in: " 512M ", want: 512},
		{in: "2G", want: 2048},
		{in: "1g", want: 1024},
		{in: "-5", wantErr: true},
		{in: "500K", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSizeMB(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "2GiB", FormatSize(2048))
	assert.Equal(t, "512MiB", FormatSize(512))
}

func TestParseKeyValues(t *testing.T) {
	out := `Name:           web
State:          RUNNING
PID:            4242
IP:             10.0.3.15
IP:             10.0.3.16
CPU use:        1.20 seconds
garbage line
`
	values := ParseKeyValues(out)
	assert.Equal(t, "web", values["name"])
	assert.Equal(t, "RUNNING", values["state"])
	assert.Equal(t, "4242", values["pid"])
	assert.Equal(t, "10.0.3.15", values["ip"])
	assert.Equal(t, "1.20 seconds", values["cpu_use"])
	assert.Len(t, values, 5)
}

func TestFields(t *testing.T) {
	rows := Fields("a b  c\n\n  \nd\te\n")
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}}, rows)
}
