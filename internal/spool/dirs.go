package spool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// dirPerm is the permission for spool-managed directories.
const dirPerm = 0750

// processingDirName holds files claimed by a running delivery pass.
const processingDirName = "processing"

// ensureDirs creates the spool and its processing subdirectory. Idempotent.
func ensureDirs(dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, processingDirName)} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// isSpoolFile returns true for .json files (not .tmp partial writes).
func isSpoolFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

// MoveFile moves src to dst using os.Rename. If rename fails with EXDEV
// (cross-device link, e.g. a staging directory on another mount),
// it falls back to copy + remove.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
