package system

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// ElevatedEnv marks a process that was re-executed through the privilege
// prefix.
const ElevatedEnv = "LXKIT_ELEVATED"

// IsRoot checks if running as root
func IsRoot() bool {
	return os.Geteuid() == 0
}

// RequireRoot ensures the program is running as root.
func RequireRoot() error {
	if IsRoot() {
		return nil
	}
	return fmt.Errorf("this command must be run as root (try with sudo, or set the sudo option)")
}

// ElevatedArgv is the argv that re-runs self with args through the
// privilege prefix, marked with ElevatedEnv.
func ElevatedArgv(prefix, self string, args []string) ([]string, error) {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return nil, InvalidArgument("no privilege prefix configured")
	}
	argv := append(fields, "env", ElevatedEnv+"=1", self)
	return append(argv, args...), nil
}

// Elevate replaces the current process with the same invocation run
// through prefix. It only returns on failure. A process that was already
// elevated and is still not root fails instead of looping.
func Elevate(prefix string) error {
	if os.Getenv(ElevatedEnv) != "" {
		return fmt.Errorf("still not root after running through %q", prefix)
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	argv, err := ElevatedArgv(prefix, self, os.Args[1:])
	if err != nil {
		return err
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("privilege prefix %q: %w", prefix, err)
	}
	return unix.Exec(path, argv, os.Environ())
}
