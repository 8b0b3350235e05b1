package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/attrd-core/pkg/log"
)

// Config is the daemon's top-level configuration file shape.
type Config struct {
	Node NodeConfig `yaml:"node"`

	Storage StorageConfig `yaml:"storage"`

	Logging LoggingConfig `yaml:"logging"`

	Admin AdminConfig `yaml:"admin"`

	Proxy ProxyConfig `yaml:"proxy"`

	// DefaultDampenMS is loaded from the file (2000 by default). No
	// component reads it: attrd.Engine.Update always takes an explicit
	// dampen argument.
	DefaultDampenMS int64 `yaml:"default_dampen_ms"`

	// CommitBackoffMS is the base retry backoff after a transient
	// configuration-store commit failure.
	CommitBackoffMS int64 `yaml:"commit_backoff_ms"`
}

// NodeConfig identifies this node within the cluster.
type NodeConfig struct {
	Name string `yaml:"name"`

	// Peers lists the other cluster nodes known at startup; membership
	// changes discovered later arrive via the messaging bus instead.
	Peers []string `yaml:"peers"`
}

// StorageConfig points at the local configuration-store file.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig controls pkg/log.Init.
type LoggingConfig struct {
	Level log.Level `yaml:"level"`
	JSONOutput bool `yaml:"json_output"`
}

// AdminConfig controls the chi-based observability HTTP surface.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProxyConfig controls the websocket IPC proxy listener.
type ProxyConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with the daemon's baked-in defaults.
func Default() Config {
	return Config{
		Node: NodeConfig{Name: "node1"},
		Storage: StorageConfig{DataDir: "/var/lib/attrd"},
		Logging: LoggingConfig{Level: log.InfoLevel},
		Admin: AdminConfig{ListenAddr: ":9090"},
		Proxy: ProxyConfig{ListenAddr: ":7630"},

		DefaultDampenMS: 2000,
		CommitBackoffMS: 250,
	}
}

// Load reads and parses a YAML configuration file, applying defaults for any
// field the file leaves at its zero value, except node.name, which a file
// must set. An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.Node.Name = ""
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields are set.
func (c Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	return nil
}
