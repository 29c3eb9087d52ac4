package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a file that does not exist; defaults apply.
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != 30 {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Gateway.Port != 9842 || cfg.Gateway.DefaultTimeout != 30 {
		t.Errorf("gateway defaults = %+v", cfg.Gateway)
	}
	if cfg.Bridge.CLIPath != "claude" || cfg.Bridge.Timeout != 300 {
		t.Errorf("bridge defaults = %+v", cfg.Bridge)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parrot.toml")
	content := `
data_dir = "/var/lib/parrot"

[telegram]
token = "tg-token"
trigger = "@bot"
allowed_users = ["1", "2"]

[scheduler]
enabled = false
poll_interval = 10

[gateway]
port = 9000
token = "gw-token"

[gateway.bridges.dev]
allowed_commands = ["memo", "task"]
allowed_cwd = ["/home/dev"]

[bridge]
cli_path = "/usr/local/bin/claude"
timeout = 120
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/parrot" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Telegram.Token != "tg-token" || cfg.Telegram.Trigger != "@bot" || len(cfg.Telegram.AllowedUsers) != 2 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != 10 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
	rules, ok := cfg.Gateway.Bridges["dev"]
	if !ok || len(rules.AllowedCommands) != 2 || len(rules.AllowedCwd) != 1 {
		t.Errorf("bridges = %+v", cfg.Gateway.Bridges)
	}
	if cfg.Bridge.CLIPath != "/usr/local/bin/claude" || cfg.Bridge.Timeout != 120 {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parrot.toml")
	if err := os.WriteFile(path, []byte(`data_dir = "/from/file"`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARROT_DATA_DIR", "/from/env")
	t.Setenv("PARROT_GATEWAY_TOKEN", "env-token")
	t.Setenv("PARROT_GATEWAY_PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/from/env" {
		t.Errorf("DataDir = %q, env should win over file", cfg.DataDir)
	}
	if cfg.Gateway.Token != "env-token" || cfg.Gateway.Port != 9999 {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
}

func TestLoadRejectsBridgeWithoutCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parrot.toml")
	content := `
[gateway.bridges.bad]
allowed_cwd = ["/tmp"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bridge without allowed_commands")
	}
}

func TestValidateClamps(t *testing.T) {
	cfg := Config{
		Scheduler: SchedulerConfig{PollInterval: 0},
		Gateway:   GatewayConfig{DefaultTimeout: -5},
		Bridge:    BridgeConfig{Timeout: -1},
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.PollInterval != 1 {
		t.Errorf("poll interval = %d", cfg.Scheduler.PollInterval)
	}
	if cfg.Gateway.DefaultTimeout != 30 {
		t.Errorf("default timeout = %d", cfg.Gateway.DefaultTimeout)
	}
	if cfg.Bridge.Timeout != 0 {
		t.Errorf("bridge timeout = %d", cfg.Bridge.Timeout)
	}
}
