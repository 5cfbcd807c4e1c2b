package envelope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/ppiankov/e2elog/internal/hostcheck"
	"github.com/ppiankov/e2elog/internal/probe"
)

// Collector gathers Facts from the local host. Unavailable facilities
// (uptime, virtualization, version control) are skipped; only unexpected
// errors are returned.
type Collector struct {
	// VMCheckCommand optionally decides VM detection by exit code.
	VMCheckCommand []string
	// RepoDir is the working copy queried for the commit hash.
	// Empty means the current directory.
	RepoDir string
	// Git is the git binary. Defaults to "git".
	Git string
	Log zerolog.Logger
}

// Collect returns the current host facts.
func (c *Collector) Collect(ctx context.Context) (Facts, error) {
	var f Facts

	hostname, err := os.Hostname()
	if err != nil {
		return f, fmt.Errorf("hostname: %w", err)
	}
	f.Hostname = strings.ToLower(hostname)
	f.UserName = currentUser()

	if info, err := host.InfoWithContext(ctx); err != nil {
		c.Log.Debug().Err(err).Msg("host info unavailable")
	} else {
		fillOS(&f, info.OS, info.Platform, info.PlatformVersion)
	}

	if up, err := host.UptimeWithContext(ctx); err != nil {
		c.Log.Debug().Err(err).Msg("uptime unavailable")
	} else {
		f.Uptime = &up
	}

	verdict, err := hostcheck.DetectVM(ctx, c.VMCheckCommand)
	switch {
	case err == nil:
		f.VirtualMachine = &verdict.Guest
	case errors.Is(err, hostcheck.ErrVMUnknown):
		c.Log.Debug().Err(err).Msg("vm detection unavailable")
	default:
		return f, fmt.Errorf("vm detection: %w", err)
	}

	if err := c.collectGit(ctx, &f); err != nil {
		return f, err
	}
	return f, nil
}

func (c *Collector) collectGit(ctx context.Context, f *Facts) error {
	git := c.Git
	if git == "" {
		git = "git"
	}
	var base []string
	if c.RepoDir != "" {
		base = []string{"-C", c.RepoDir}
	}

	out, err := probe.Run(ctx, git, append(base, "rev-parse", "--short", "HEAD")...)
	if err != nil {
		if probe.IsRecoverable(err) {
			c.Log.Debug().Err(err).Msg("commit hash unavailable")
			return nil
		}
		return fmt.Errorf("commit hash: %w", err)
	}
	f.CommitHash = out.Stdout

	clean, err := probe.ExitZero(ctx, git, append(base, "diff-index", "--quiet", "HEAD", "--")...)
	if err != nil {
		if probe.IsRecoverable(err) {
			c.Log.Debug().Err(err).Msg("working copy state unavailable")
			return nil
		}
		return fmt.Errorf("working copy state: %w", err)
	}
	dirty := !clean
	f.UncommittedChanges = &dirty
	return nil
}

func fillOS(f *Facts, osName, platform, version string) {
	family := capitalize(osName)
	if osName == "windows" {
		family = "Microsoft Windows"
	}
	major := version
	if i := strings.IndexAny(version, ". "); i > 0 {
		major = version[:i]
	}
	f.OSFamily = family
	f.Distribution = capitalize(platform)
	f.DistributionMajorVersion = major
	f.DistributionFullName = strings.TrimSpace(capitalize(platform) + " " + version)
}

func currentUser() string {
	for _, key := range []string{"USERNAME", "USER"} {
		if v := os.Getenv(key); v != "" {
			return strings.ToLower(v)
		}
	}
	if u, err := user.Current(); err == nil {
		return strings.ToLower(u.Username)
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
