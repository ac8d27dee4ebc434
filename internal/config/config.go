// Package config loads the process-wide configuration used across the
// store, the RAID1 codec, the transfer driver, and the resource broker.
// It is read once at startup and passed down explicitly; nothing in this
// module reaches for a package-level singleton.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Raid1 holds the defaults applied when a per-transfer layout-param
// attribute set does not override them (spec §4.1).
type Raid1 struct {
	ReplCount     int  `yaml:"repl_count"`
	ExtentXXH128  bool `yaml:"extent_xxh128"`
	ExtentMD5     bool `yaml:"extent_md5"`
	CheckHash     bool `yaml:"check_hash"`
	DefaultBlock  int  `yaml:"default_block_size"`
}

// LRS holds resource-broker connection settings.
type LRS struct {
	SocketPath  string `yaml:"socket_path"`
	DialTimeout int    `yaml:"dial_timeout_ms"`
}

// Catalog holds DSS connection settings.
type Catalog struct {
	Path string `yaml:"path"`
}

// Backoff holds the randomized poll-jitter bounds used by the transfer
// driver's phase-2 IO loop (spec §4.4, §9).
type Backoff struct {
	MinMS int `yaml:"min_ms"`
	MaxMS int `yaml:"max_ms"`
}

// Config is the explicit context object threaded through init/fini and
// down into every component that needs it (spec §9 "Global state").
type Config struct {
	Hostname string  `yaml:"hostname"`
	Raid1    Raid1   `yaml:"raid1"`
	LRS      LRS     `yaml:"lrs"`
	Catalog  Catalog `yaml:"catalog"`
	Backoff  Backoff `yaml:"backoff"`
}

// Default returns the built-in defaults (spec §4.1 configuration table).
func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		Hostname: host,
		Raid1: Raid1{
			ReplCount:    2,
			ExtentXXH128: true,
			ExtentMD5:    true,
			CheckHash:    true,
			DefaultBlock: 64 * 1024,
		},
		LRS: LRS{
			SocketPath:  "/tmp/phobosd-lrs.sock",
			DialTimeout: 5000,
		},
		Catalog: Catalog{
			Path: "phobosd-catalog.db",
		},
		Backoff: Backoff{
			MinMS: 10,
			MaxMS: 1000,
		},
	}
}

// Load reads a YAML config file, applying it on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
