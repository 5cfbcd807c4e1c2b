// Package envelope builds the metadata attached to every event at delivery
// time: environment facts about the host, run metadata, and the caller's own
// extra data merged on top.
package envelope

import (
	"github.com/ppiankov/e2elog/internal/config"
)

// DefaultSource is the #source value when none is configured.
const DefaultSource = "e2e-tests"

// locationWidth is the width of the location code sliced from the hostname.
const locationWidth = 4

// Facts are host and working-copy facts gathered at delivery time.
// Optional facts are nil when the platform could not provide them.
type Facts struct {
	Hostname string
	UserName string

	OSFamily                 string
	Distribution             string
	DistributionMajorVersion string
	DistributionFullName     string

	Uptime         *uint64
	VirtualMachine *bool

	CommitHash         string
	UncommittedChanges *bool
}

// Build produces a new envelope from cfg and facts and merges custom on top.
// The production tier forces meta.uncommitted_changes to false regardless of
// the detected working-copy state. custom is not modified.
func Build(custom map[string]any, cfg config.Config, facts Facts) (map[string]any, error) {
	env := map[string]any{
		"user_name":        facts.UserName,
		"location_id":      LocationCode(facts.Hostname),
		"managed_network":  cfg.Environment.ManagedNetwork,
		"managed_software": cfg.Environment.ManagedSoftware,
		"custom":           "",
	}
	if facts.OSFamily != "" {
		env["os_family"] = facts.OSFamily
		env["distribution"] = facts.Distribution
		env["distribution_major_version"] = facts.DistributionMajorVersion
		env["distribution_full_name"] = facts.DistributionFullName
	}
	if facts.Uptime != nil {
		env["uptime"] = *facts.Uptime
	}
	if facts.VirtualMachine != nil {
		env["virtual_machine"] = *facts.VirtualMachine
	}
	if cfg.Environment.CustomText != "" {
		env["custom"] = cfg.Environment.CustomText
	}
	if cfg.Environment.LocationID != "" {
		env["location_id"] = cfg.Environment.LocationID
	}

	meta := map[string]any{
		"monitoring":          cfg.Meta.Monitoring,
		"uncommitted_changes": true,
	}
	if facts.CommitHash != "" {
		meta["commit_hash"] = facts.CommitHash
	}
	if facts.UncommittedChanges != nil {
		meta["uncommitted_changes"] = *facts.UncommittedChanges
	}
	if cfg.Environment.IsProduction() {
		meta["uncommitted_changes"] = false
	}

	source := cfg.Environment.Source
	if source == "" {
		source = DefaultSource
	}

	out := map[string]any{
		"#pre_filters": []any{"python-logging"},
		"#source":      source,
		"env":          env,
		"meta":         meta,
	}

	if err := Merge(out, custom); err != nil {
		return nil, err
	}
	return out, nil
}

// LocationCode slices the fixed-width location code out of a hostname:
// the characters after the first one, at most locationWidth long.
func LocationCode(hostname string) string {
	if len(hostname) <= 1 {
		return ""
	}
	end := 1 + locationWidth
	if end > len(hostname) {
		end = len(hostname)
	}
	return hostname[1:end]
}
