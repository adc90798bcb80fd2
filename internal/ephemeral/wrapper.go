package ephemeral

import (
	"fmt"
	"os"
	"strings"

	"github.com/nace/lxkit/internal/storage"
	"github.com/nace/lxkit/internal/system"
)

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WrapperScript renders the bash script that starts the container,
// waits for it to stop and then removes every resource of the session.
// The same teardown runs on TERM, INT and QUIT.
func (s *Session) WrapperScript() string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("#!/bin/bash")
	line(`rm -f "$0"`)
	line("scrub()")
	line("{")
	if s.overlay != nil {
		line("umount %s", shellQuote(s.overlay.TargetPath()))
	}
	for _, bind := range s.binds {
		scrubResource(line, bind)
	}
	if s.upper != nil {
		scrubResource(line, s.upper)
	}
	if system.PathDepth(s.path) >= 2 {
		line("rm -rf %s", shellQuote(s.path))
	}
	line("}")
	line("trap scrub SIGTERM SIGINT SIGQUIT")
	line("lxc-start -n %s -d", shellQuote(s.name))
	line("sleep 1")
	line("lxc-wait -n %s -s STOPPED", shellQuote(s.name))
	line("scrub")
	return b.String()
}

func scrubResource(line func(string, ...interface{}), r storage.Resource) {
	dev, ok := r.(*storage.VirtualDevice)
	if !ok {
		line("rm -rf %s", shellQuote(r.TargetPath()))
		return
	}
	line("umount %s", shellQuote(dev.TargetPath()))
	if !dev.Describe().Tmpfs {
		line("rm -f %s", shellQuote(dev.DevicePath()))
	}
	line("rmdir %s", shellQuote(dev.TargetPath()))
}

func (s *Session) writeWrapper() (string, error) {
	f, err := os.CreateTemp("", "lxkit-"+s.name+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create wrapper script: %w", err)
	}
	if _, err := f.WriteString(s.WrapperScript()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Chmod(f.Name(), 0700); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
