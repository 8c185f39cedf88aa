// CLAUDE:SUMMARY Configuration structs and YAML loader for the critwatch daemon.
package critkeeper

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/critlab/critwatch/decision"
	"github.com/critlab/critwatch/history"
	"github.com/critlab/critwatch/restore"
	"github.com/critlab/critwatch/style"
)

// Config holds all critwatch configuration.
type Config struct {
	Host    HostConfig      `yaml:"host"`
	Crit    decision.Config `yaml:"crit"`
	Style   style.Config    `yaml:"style"`
	History history.Options `yaml:"history"`
	Restore restore.Config  `yaml:"restore"`
	Verify  VerifyConfig    `yaml:"verify"`
	Admin   AdminConfig     `yaml:"admin"`
	Audit   AuditConfig     `yaml:"audit"`
	// CheckInterval drives the periodic live restoration check.
	CheckInterval time.Duration `yaml:"check_interval"`
	// SweepInterval drives periodic expiry of stale pending decisions.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HostConfig describes the chat page to attach to.
type HostConfig struct {
	// URL of the chat UI.
	URL string `yaml:"url"`
	// Remote is the WebSocket URL of an external Chromium. Empty = launch.
	Remote string `yaml:"remote"`
	// Headless launches the local Chromium without a window. Default: true.
	Headless *bool `yaml:"headless"`
	// Class-substring hooks into the host markup.
	MessageClass     string `yaml:"message_class"`
	ContentClass     string `yaml:"content_class"`
	AuthorClass      string `yaml:"author_class"`
	ChannelListClass string `yaml:"channel_list_class"`
}

// VerifyConfig bounds the post-apply verification monitor.
type VerifyConfig struct {
	Checks   int           `yaml:"checks"`
	Interval time.Duration `yaml:"interval"`
}

// AdminConfig controls the HTTP admin surface.
type AdminConfig struct {
	// Addr to listen on. Empty disables the admin server.
	Addr string `yaml:"addr"`
}

// AuditConfig controls the SQLite audit event log.
type AuditConfig struct {
	// DBPath of the audit database. Empty disables auditing.
	DBPath string `yaml:"db_path"`
	// RetentionDays bounds event age; 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

func (c *Config) applyDefaults() {
	if c.Style.Mode == "" {
		c.Style = style.Default()
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	// Component configs default themselves on construction; only the keeper's
	// own knobs are handled here.
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("critkeeper: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("critkeeper: parse config %s: %w", path, err)
	}
	return cfg, nil
}
