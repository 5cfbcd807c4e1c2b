// Package systemd renders the unit files that run the e2elog jobs on a
// schedule: delivery on test machines, relay and collect on the hosts that
// forward events to the log store.
package systemd

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBinary is where the install scripts place the e2elog binary.
const DefaultBinary = "/usr/local/bin/e2elog"

// Options parameterize the rendered units.
type Options struct {
	Binary     string
	ConfigPath string
	User       string
	// SpoolDir and LogDir are the only paths the jobs may write.
	SpoolDir string
	LogDir   string

	DeliverInterval time.Duration
	RelayInterval   time.Duration
	CollectInterval time.Duration
}

// Unit is one rendered unit file.
type Unit struct {
	Name    string
	Content string
}

type job struct {
	name        string
	description string
	args        string
	interval    time.Duration
	network     bool
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.DeliverInterval <= 0 {
		o.DeliverInterval = time.Minute
	}
	if o.RelayInterval <= 0 {
		o.RelayInterval = 5 * time.Minute
	}
	if o.CollectInterval <= 0 {
		o.CollectInterval = 5 * time.Minute
	}
	return o
}

// Units returns the service and timer units for the deliver, relay and
// collect jobs, each service followed by its timer.
func Units(o Options) []Unit {
	o = o.withDefaults()
	jobs := []job{
		{name: "deliver", description: "Deliver spooled e2e test events", args: "deliver", interval: o.DeliverInterval, network: true},
		{name: "relay", description: "Relay buffered e2e test events", args: "relay", interval: o.RelayInterval, network: true},
		{name: "collect", description: "Collect relayed e2e test buffers", args: "collect", interval: o.CollectInterval, network: true},
	}
	units := make([]Unit, 0, 2*len(jobs))
	for _, j := range jobs {
		units = append(units,
			Unit{Name: "e2elog-" + j.name + ".service", Content: service(o, j)},
			Unit{Name: "e2elog-" + j.name + ".timer", Content: timer(j)},
		)
	}
	return units
}

func service(o Options, j job) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", j.description)
	if j.network {
		b.WriteString("After=network-online.target\nWants=network-online.target\n")
	}
	b.WriteString("\n[Service]\nType=oneshot\n")
	if o.User != "" {
		fmt.Fprintf(&b, "User=%s\n", o.User)
	}
	exec := o.Binary
	if o.ConfigPath != "" {
		exec += " --config " + o.ConfigPath
	}
	fmt.Fprintf(&b, "ExecStart=%s %s\n", exec, j.args)
	b.WriteString("NoNewPrivileges=true\nPrivateTmp=true\nProtectSystem=strict\n")
	var rw []string
	for _, p := range []string{o.SpoolDir, o.LogDir} {
		if p != "" {
			rw = append(rw, p)
		}
	}
	if len(rw) > 0 {
		fmt.Fprintf(&b, "ReadWritePaths=%s\n", strings.Join(rw, " "))
	}
	return b.String()
}

func timer(j job) string {
	return fmt.Sprintf(`[Unit]
Description=Run e2elog %[1]s every %[2]s

[Timer]
OnBootSec=%[2]s
OnUnitInactiveSec=%[2]s
Unit=e2elog-%[1]s.service

[Install]
WantedBy=timers.target
`, j.name, seconds(j.interval))
}

// seconds renders d as a systemd time span.
func seconds(d time.Duration) string {
	s := int64(d / time.Second)
	if s < 1 {
		s = 1
	}
	return fmt.Sprintf("%ds", s)
}
