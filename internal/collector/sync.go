package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/e2elog/internal/probe"
	"github.com/ppiankov/e2elog/internal/spool"
)

// partSuffix marks uploads still in progress.
const partSuffix = ".part"

// Syncer moves finished buffer files from a staging location into dst,
// removing each source only after it was transferred.
type Syncer interface {
	Sync(ctx context.Context, src, dst string) error
}

// SyncerFor picks rsync for user@host:path sources and a local move otherwise.
func SyncerFor(source string) Syncer {
	if isRemote(source) {
		return &RsyncSyncer{}
	}
	return &LocalSyncer{}
}

// isRemote reports whether source has the [user@]host:path form. A Windows
// drive letter ("c:\...") is local.
func isRemote(source string) bool {
	i := strings.Index(source, ":")
	if i <= 1 {
		return false
	}
	return !strings.ContainsAny(source[:i], `/\`)
}

// RsyncSyncer runs rsync --archive --remove-source-files.
type RsyncSyncer struct {
	// Binary defaults to "rsync".
	Binary string
}

// Sync implements Syncer.
func (s *RsyncSyncer) Sync(ctx context.Context, src, dst string) error {
	bin := s.Binary
	if bin == "" {
		bin = "rsync"
	}
	_, err := probe.Run(ctx, bin,
		"--archive",
		"--remove-source-files",
		"--exclude=*"+partSuffix,
		strings.TrimSuffix(src, "/")+"/",
		dst,
	)
	return err
}

// LocalSyncer moves files from a local staging directory, for collectors
// running on the staging host itself.
type LocalSyncer struct{}

// Sync implements Syncer.
func (LocalSyncer) Sync(_ context.Context, src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, partSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		if err := spool.MoveFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("move %s: %w", name, err)
		}
	}
	return nil
}
