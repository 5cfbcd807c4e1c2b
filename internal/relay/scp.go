package relay

import (
	"context"
	"fmt"

	"github.com/ppiankov/e2elog/internal/probe"
)

// scpScript copies $0 to $1 and removes $0 only if the copy succeeded.
// Paths travel as positional parameters, never inside the script text.
const scpScript = `scp "$0" "$1" && rm "$0"`

// SCPChannel runs scp through a POSIX shell. On Windows hosts Shell is
// usually the Git Bash executable.
type SCPChannel struct {
	Shell string
}

// Transfer implements Channel.
func (c *SCPChannel) Transfer(ctx context.Context, local string, remote Target) error {
	shell := c.Shell
	if shell == "" {
		shell = "sh"
	}
	if _, err := probe.Run(ctx, shell, "-c", scpScript, local, remote.String()); err != nil {
		return fmt.Errorf("scp: %w", err)
	}
	return nil
}
