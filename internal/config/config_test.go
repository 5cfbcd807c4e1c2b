package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "e2e.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if !cfg.Environment.ManagedNetwork || !cfg.Environment.ManagedSoftware {
		t.Error("managed_network and managed_software default to true")
	}
	if cfg.Output.Logstash || cfg.Output.CSV || cfg.Output.Syslog {
		t.Error("outputs default to disabled")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
environment:
  tier: production
  location_id: ab12
output:
  logstash: true
  logstash_host: logstash.example.com
meta:
  monitoring: true
tests:
  sikulix_example:
    enabled_processes: |
      x
      y
    login: true
    iterations: 3
    screenshot_command: ["scrot", "{screenshot_dir}/{test}.png"]
    processes:
      - name: x
        command: ["sikulix", "-r", "x.sikuli"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Environment.IsProduction() {
		t.Error("tier production not detected")
	}
	if cfg.Environment.LocationID != "ab12" {
		t.Errorf("LocationID = %q", cfg.Environment.LocationID)
	}
	if !cfg.Environment.ManagedNetwork {
		t.Error("unset key should keep its default")
	}
	if cfg.Output.LogstashPort != 5959 {
		t.Errorf("LogstashPort = %d", cfg.Output.LogstashPort)
	}
	if got := cfg.Output.LogstashAddr(); got != "logstash.example.com:5959" {
		t.Errorf("LogstashAddr = %q", got)
	}
	if !cfg.Meta.Monitoring {
		t.Error("meta.monitoring not loaded")
	}
	if got := cfg.EnabledProcesses("sikulix_example"); got != "x\ny\n" {
		t.Errorf("EnabledProcesses = %q", got)
	}
	if got := cfg.EnabledProcesses("unknown"); got != "" {
		t.Errorf("unknown test EnabledProcesses = %q", got)
	}

	tc := cfg.Tests["sikulix_example"]
	if !tc.Login || tc.Iterations != 3 {
		t.Errorf("login/iterations = %t/%d", tc.Login, tc.Iterations)
	}
	if len(tc.ScreenshotCommand) != 2 || tc.ScreenshotCommand[0] != "scrot" {
		t.Errorf("ScreenshotCommand = %v", tc.ScreenshotCommand)
	}
	want := []ProcessConfig{{Name: "x", Command: []string{"sikulix", "-r", "x.sikuli"}}}
	if !reflect.DeepEqual(tc.Processes, want) {
		t.Errorf("Processes = %+v", tc.Processes)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "environment:\n  custom_text: from-env\n")
	t.Setenv("E2ELOG_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment.CustomText != "from-env" {
		t.Errorf("CustomText = %q", cfg.Environment.CustomText)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "environment: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Output.Logstash = true
	if err := cfg.Validate(); err == nil {
		t.Error("logstash without host should fail")
	}

	cfg.Output.LogstashHost = "h"
	if err := cfg.Validate(); err != nil {
		t.Errorf("logstash with host: %v", err)
	}

	cfg.Output.LogstashPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("port out of range should fail")
	}

	cfg = Default()
	cfg.Output.LogstashViaSCP = true
	if err := cfg.Validate(); err == nil {
		t.Error("relay without target should fail")
	}

	cfg.Output.LogstashViaSCPUser = "e2e"
	cfg.Output.LogstashViaSCPHost = "collector"
	cfg.Output.LogstashViaSCPPath = "/srv/drop"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete relay target: %v", err)
	}

	cfg.Output.LogstashViaSCPMethod = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown relay method should fail")
	}
}

func TestValidateTests(t *testing.T) {
	tests := []struct {
		name string
		tc   TestConfig
		want string
	}{
		{"valid", TestConfig{Processes: []ProcessConfig{{Name: "login", Command: []string{"true"}}}}, ""},
		{"no name", TestConfig{Processes: []ProcessConfig{{Command: []string{"true"}}}}, "name is required"},
		{"no command", TestConfig{Processes: []ProcessConfig{{Name: "login"}}}, "command is required"},
		{"duplicate", TestConfig{Processes: []ProcessConfig{
			{Name: "login", Command: []string{"true"}},
			{Name: "login", Command: []string{"true"}},
		}}, "duplicate process login"},
		{"negative iterations", TestConfig{Iterations: -1}, "iterations -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Tests = map[string]TestConfig{"sikulix_example": tt.tc}
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if !strings.Contains(err.Error(), "tests.sikulix_example") {
				t.Errorf("error should name the test: %v", err)
			}
		})
	}
}

func TestTargetsAndPaths(t *testing.T) {
	cfg := Default()
	cfg.Output.LogstashViaSCPUser = "e2e"
	cfg.Output.LogstashViaSCPHost = "collector"
	cfg.Output.LogstashViaSCPPath = "/srv/drop"
	if got := cfg.Output.SCPTargetDir(); got != "e2e@collector:/srv/drop" {
		t.Errorf("SCPTargetDir = %q", got)
	}
	if got := cfg.CollectorSource(); got != "e2e@collector:/srv/drop" {
		t.Errorf("CollectorSource = %q", got)
	}

	cfg.Collector.Source = "/local/drop"
	if got := cfg.CollectorSource(); got != "/local/drop" {
		t.Errorf("CollectorSource override = %q", got)
	}

	cfg.Paths.Working = "/w"
	if got := cfg.Paths.CredentialsPath(); got != filepath.Join("/w", "login_credentials.json") {
		t.Errorf("CredentialsPath = %q", got)
	}
	if got := cfg.Paths.ScreenshotDir(); got != filepath.Join("/w", "screenshots") {
		t.Errorf("ScreenshotDir = %q", got)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "login_credentials.json")

	_, err := LoadCredentials(path)
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), path) || !strings.Contains(err.Error(), `{"username":"user","password":"pw"}`) {
		t.Errorf("error should name the path and example content: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"username":"user","password":"pw"}`), 0600); err != nil {
		t.Fatal(err)
	}
	creds, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.Username != "user" || creds.Password != "pw" {
		t.Errorf("creds = %+v", creds)
	}

	if err := os.WriteFile(path, []byte(`{"password":"pw"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(path); err == nil {
		t.Error("missing username should fail")
	}
}
