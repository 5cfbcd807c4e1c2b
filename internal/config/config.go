// Package config loads the e2elog configuration file.
//
// The file is YAML with one section per concern. Every key is optional: a
// missing file or a missing key leaves the default in place and the
// corresponding feature disabled.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/e2elog/internal/logging"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "e2e.yaml"

// TierProduction is the environment tier treated as a released, clean build.
const TierProduction = "production"

// Relay methods.
const (
	MethodSCP = "scp"
	MethodSSH = "ssh"
)

// Config is the resolved configuration of one process invocation.
type Config struct {
	Environment Environment           `yaml:"environment"`
	Output      Output                `yaml:"output"`
	Meta        Meta                  `yaml:"meta"`
	Paths       Paths                 `yaml:"paths"`
	Collector   Collector             `yaml:"collector"`
	Tests       map[string]TestConfig `yaml:"tests"`
	Log         logging.Config        `yaml:"log"`
}

// Environment describes where the tests run.
type Environment struct {
	Tier            string   `yaml:"tier"`
	ManagedNetwork  bool     `yaml:"managed_network"`
	ManagedSoftware bool     `yaml:"managed_software"`
	CustomText      string   `yaml:"custom_text"`
	LocationID      string   `yaml:"location_id"`
	Source          string   `yaml:"source"`
	VMCheckCommand  []string `yaml:"vm_check_command"`
}

// Output selects and parameterizes the event transports.
type Output struct {
	Logstash     bool   `yaml:"logstash"`
	LogstashHost string `yaml:"logstash_host"`
	LogstashPort int    `yaml:"logstash_port"`

	LogstashViaSCP       bool   `yaml:"logstash_via_scp"`
	LogstashViaSCPUser   string `yaml:"logstash_via_scp_user"`
	LogstashViaSCPHost   string `yaml:"logstash_via_scp_host"`
	LogstashViaSCPPath   string `yaml:"logstash_via_scp_path"`
	LogstashViaSCPMethod string `yaml:"logstash_via_scp_method"`
	Shell                string `yaml:"shell"`
	SSHPort              int    `yaml:"ssh_port"`
	Identity             string `yaml:"identity"`
	KnownHosts           string `yaml:"known_hosts"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	CSV    bool `yaml:"csv"`
	Syslog bool `yaml:"syslog"`
}

// Meta holds run metadata flags.
type Meta struct {
	Monitoring bool `yaml:"monitoring"`
}

// Paths is the on-disk layout.
type Paths struct {
	Spool          string `yaml:"spool"`
	Working        string `yaml:"working"`
	Log            string `yaml:"log"`
	CollectorSpool string `yaml:"collector_spool"`
}

// Collector configures the remote collector job.
type Collector struct {
	// Source is the staging directory, either local or user@host:path.
	// Defaults to the relay target directory.
	Source string `yaml:"source"`
}

// TestConfig holds per-test settings.
type TestConfig struct {
	EnabledProcesses string `yaml:"enabled_processes"`
	// Processes lists the process commands in execution order. The words
	// {iteration} and {screenshot_dir} in a command are substituted.
	Processes []ProcessConfig `yaml:"processes"`
	// ScreenshotCommand captures the screen after a failed process.
	ScreenshotCommand []string `yaml:"screenshot_command"`
	// Login requires the credentials file before the init process runs.
	Login      bool `yaml:"login"`
	Iterations int  `yaml:"iterations"`
}

// ProcessConfig is one named process of a test.
type ProcessConfig struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	root := defaultRoot()
	return Config{
		Environment: Environment{
			Tier:            "staging",
			ManagedNetwork:  true,
			ManagedSoftware: true,
			Source:          "e2e-tests",
		},
		Output: Output{
			LogstashPort:         5959,
			LogstashViaSCPMethod: MethodSCP,
			Shell:                "sh",
			SSHPort:              22,
			NATSSubject:          "e2e.events",
		},
		Paths: Paths{
			Spool:          filepath.Join(root, "var", "spool", "e2e-tests"),
			Working:        filepath.Join(root, "var", "lib", "e2e-tests"),
			Log:            filepath.Join(root, "var", "log", "e2e-tests"),
			CollectorSpool: filepath.Join(root, "var", "spool", "e2e-logstash"),
		},
		Log: logging.Config{Level: "info", Output: "stderr"},
	}
}

func defaultRoot() string {
	if runtime.GOOS == "windows" {
		return `c:\`
	}
	return "/"
}

// Load reads the configuration from path.
// If path is empty, tries E2ELOG_CONFIG, then ./e2e.yaml.
// A missing file yields Default() without error.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("E2ELOG_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that enabled features carry the settings they need.
func (c Config) Validate() error {
	o := c.Output
	if o.Logstash && o.NATSURL == "" {
		if o.LogstashHost == "" {
			return fmt.Errorf("output.logstash_host is required when output.logstash is enabled")
		}
		if o.LogstashPort <= 0 || o.LogstashPort > 65535 {
			return fmt.Errorf("output.logstash_port %d is out of range", o.LogstashPort)
		}
	}
	if o.LogstashViaSCP {
		if o.LogstashViaSCPUser == "" || o.LogstashViaSCPHost == "" || o.LogstashViaSCPPath == "" {
			return fmt.Errorf("output.logstash_via_scp_user, _host and _path are required when output.logstash_via_scp is enabled")
		}
		switch o.LogstashViaSCPMethod {
		case MethodSCP, MethodSSH:
		default:
			return fmt.Errorf("invalid output.logstash_via_scp_method %q: must be one of: scp, ssh", o.LogstashViaSCPMethod)
		}
	}
	for name, test := range c.Tests {
		if err := test.validate(); err != nil {
			return fmt.Errorf("tests.%s: %w", name, err)
		}
	}
	return nil
}

func (t TestConfig) validate() error {
	if t.Iterations < 0 {
		return fmt.Errorf("iterations %d is negative", t.Iterations)
	}
	seen := make(map[string]bool, len(t.Processes))
	for i, p := range t.Processes {
		if p.Name == "" {
			return fmt.Errorf("processes[%d]: name is required", i)
		}
		if len(p.Command) == 0 {
			return fmt.Errorf("processes[%d] %s: command is required", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("processes[%d]: duplicate process %s", i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// IsProduction reports whether the tier is production (case-insensitive).
func (e Environment) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(e.Tier), TierProduction)
}

// LogstashAddr returns host:port of the Logstash TCP input.
func (o Output) LogstashAddr() string {
	return fmt.Sprintf("%s:%d", o.LogstashHost, o.LogstashPort)
}

// SCPTargetDir returns the relay staging directory as user@host:path.
func (o Output) SCPTargetDir() string {
	return fmt.Sprintf("%s@%s:%s", o.LogstashViaSCPUser, o.LogstashViaSCPHost, o.LogstashViaSCPPath)
}

// CollectorSource returns the collector staging directory.
func (c Config) CollectorSource() string {
	if c.Collector.Source != "" {
		return c.Collector.Source
	}
	return c.Output.SCPTargetDir()
}

// ScreenshotDir returns the directory screenshots are moved into.
func (p Paths) ScreenshotDir() string {
	return filepath.Join(p.Working, "screenshots")
}

// CredentialsPath returns the location of the login credentials file.
func (p Paths) CredentialsPath() string {
	return filepath.Join(p.Working, "login_credentials.json")
}

// EnabledProcesses returns the raw enabled_processes value for a test.
func (c Config) EnabledProcesses(test string) string {
	return c.Tests[test].EnabledProcesses
}
