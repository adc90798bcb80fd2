package system

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ResolvePath returns the absolute, symlink-free form of path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must be specified")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %v does not exist", absolute)
		}
		return "", err
	}
	return resolved, nil
}

// IsBlockDevice returns true if the given path is a block device
func IsBlockDevice(path string) bool {
	resolved, err := ResolvePath(path)
	if err != nil {
		return false
	}

	var stat unix.Stat_t
	if err := unix.Stat(resolved, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFBLK
}

// IsBtrfs reports whether path lives on a btrfs filesystem and can
// therefore be snapshotted.
func IsBtrfs(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return uint32(st.Type) == uint32(unix.BTRFS_SUPER_MAGIC)
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PathDepth counts the non-empty segments of a cleaned path.
// "/" is 0, "/var" is 1, "/var/lib/lxc/foo" is 4.
func PathDepth(path string) int {
	cleaned := filepath.Clean(path)
	depth := 0
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg != "" && seg != "." {
			depth++
		}
	}
	return depth
}

// CopyFile copies a regular file, keeping its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
