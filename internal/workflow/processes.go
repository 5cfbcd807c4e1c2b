// Package workflow runs the processes of one end-to-end test and turns the
// outcome into a single result event.
package workflow

import (
	"strings"
)

// InitProcess always runs first. Its failure stops the workflow.
const InitProcess = "init"

// legacyPrefix is accepted in enabled_processes lists written for older
// test scripts.
const legacyPrefix = "run_process_"

// ParseEnabledProcesses reads an enabled_processes list: one process name per
// line, blank lines and lines starting with # skipped. Duplicates are dropped
// and the first-seen order is kept.
func ParseEnabledProcesses(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		name = strings.TrimPrefix(name, legacyPrefix)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
