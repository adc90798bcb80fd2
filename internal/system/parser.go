package system

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// ParseSizeMB converts a size flag to megabytes. A bare number is taken
// as megabytes already; suffixed values (512M, 2G) use binary units.
func ParseSizeMB(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %s", s)
		}
		return n, nil
	}

	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s (use format like 2000, 512M, 2G)", s)
	}
	if bytes < units.MiB {
		return 0, fmt.Errorf("size too small: %s (minimum 1M)", s)
	}
	return int(bytes / units.MiB), nil
}

// FormatSize converts megabytes to human-readable format
func FormatSize(mb int) string {
	return units.BytesSize(float64(mb) * units.MiB)
}

// ParseKeyValues parses "Key: value" lines as printed by lxc-info.
// Keys are lower-cased with spaces replaced by underscores. Repeated keys
// keep their first value.
func ParseKeyValues(output string) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), " ", "_"))
		if key == "" {
			continue
		}
		if _, seen := values[key]; seen {
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	return values
}

// Fields splits output into whitespace separated fields per line,
// skipping blank lines.
func Fields(output string) [][]string {
	var rows [][]string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			rows = append(rows, fields)
		}
	}
	return rows
}
