// Package config loads the runtime configuration: defaults, then a TOML
// file, then environment overrides (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir   string          `toml:"data_dir"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Observer  ObserverConfig  `toml:"observer"`
}

type TelegramConfig struct {
	Token        string   `toml:"token"`
	Trigger      string   `toml:"trigger"`
	AllowedUsers []string `toml:"allowed_users"`
}

type SchedulerConfig struct {
	Enabled      bool `toml:"enabled"`
	PollInterval int  `toml:"poll_interval"` // seconds, minimum 1
}

type GatewayConfig struct {
	URL            string                 `toml:"url"`
	Port           int                    `toml:"port"`
	Token          string                 `toml:"token"`
	DefaultTimeout int                    `toml:"default_timeout"` // seconds
	Bridges        map[string]BridgeRules `toml:"bridges"`
}

// BridgeRules is one bridge's allowlist as written in the config file.
type BridgeRules struct {
	AllowedCommands []string `toml:"allowed_commands"`
	AllowedCwd      []string `toml:"allowed_cwd"`
}

type BridgeConfig struct {
	CLIPath        string `toml:"cli_path"`
	ProjectsDir    string `toml:"projects_dir"`
	PermissionMode string `toml:"permission_mode"`
	Timeout        int    `toml:"timeout"` // seconds, 0 = no limit
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		DataDir: "./data",
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: 30,
		},
		Gateway: GatewayConfig{
			Port:           9842,
			DefaultTimeout: 30,
		},
		Bridge: BridgeConfig{
			CLIPath:     "claude",
			ProjectsDir: "~/.claude/projects",
			Timeout:     300,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "parrot.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if v := os.Getenv("PARROT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PARROT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("PARROT_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("PARROT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("PARROT_GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gateway.Port = n
		}
	}
	if v := os.Getenv("PARROT_BRIDGE_CLI"); v != "" {
		cfg.Bridge.CLIPath = v
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Scheduler.PollInterval < 1 {
		c.Scheduler.PollInterval = 1
	}
	if c.Gateway.DefaultTimeout <= 0 {
		c.Gateway.DefaultTimeout = 30
	}
	if c.Bridge.Timeout < 0 {
		c.Bridge.Timeout = 0
	}
	for name, rules := range c.Gateway.Bridges {
		if len(rules.AllowedCommands) == 0 {
			return fmt.Errorf("config: bridge %q has no allowed_commands", name)
		}
	}
	return nil
}
