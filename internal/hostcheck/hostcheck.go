// Package hostcheck answers two questions about the local machine that the
// test scripts cannot answer from inside the automation engine: is a given
// process running, and are we running as a virtual machine guest.
package hostcheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ppiankov/e2elog/internal/probe"
)

// ProcessRunning reports whether any process other than the caller has
// search in its executable path or in one of its command line arguments.
// Processes that cannot be inspected are skipped.
func ProcessRunning(ctx context.Context, search string) (bool, error) {
	if search == "" {
		return false, fmt.Errorf("search string is required")
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		if matchProcess(ctx, p, search) {
			return true, nil
		}
	}
	return false, nil
}

func matchProcess(ctx context.Context, p *process.Process, search string) bool {
	if exe, err := p.ExeWithContext(ctx); err == nil && strings.Contains(exe, search) {
		return true
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	for _, arg := range args {
		if strings.Contains(arg, search) {
			return true
		}
	}
	return false
}

// VMVerdict is the outcome of virtualization detection.
type VMVerdict struct {
	Guest  bool
	System string // hypervisor name when known, e.g. "vmware", "kvm"
	Source string // "command" or "host"
}

// Message is the human-readable verdict printed by the check-vm command.
func (v VMVerdict) Message() string {
	if v.Guest {
		if v.System != "" {
			return fmt.Sprintf("Running as guest on a hypervisor (%s).", v.System)
		}
		return "Running as guest on a hypervisor."
	}
	return "Running on bare metal."
}

// ErrVMUnknown is returned when neither a check command nor host
// introspection can decide.
var ErrVMUnknown = errors.New("virtualization state unknown")

// DetectVM decides whether this host is a VM guest. When command is set it
// is run first and its exit code decides (0 = guest); a recoverable probe
// failure falls through to host introspection.
func DetectVM(ctx context.Context, command []string) (VMVerdict, error) {
	if len(command) > 0 {
		guest, err := probe.ExitZero(ctx, command[0], command[1:]...)
		if err == nil {
			return VMVerdict{Guest: guest, Source: "command"}, nil
		}
		if !probe.IsRecoverable(err) {
			return VMVerdict{}, err
		}
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return VMVerdict{}, fmt.Errorf("%w: %v", ErrVMUnknown, err)
	}
	return verdictFromHost(info.VirtualizationSystem, info.VirtualizationRole), nil
}

func verdictFromHost(system, role string) VMVerdict {
	return VMVerdict{
		Guest:  role == "guest",
		System: system,
		Source: "host",
	}
}
