// Package config loads zbxctl settings from a YAML file and ZBX_*
// environment variables, and builds the command's logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Trapper  TrapperConfig  `yaml:"trapper"`
	API      APIConfig      `yaml:"api"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9100".
	MetricsAddr string `yaml:"metrics_addr"`
}

// TrapperConfig locates a server or proxy accepting trapper connections.
type TrapperConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type APIConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RegistryConfig enables etcd discovery of trapper endpoints when
// Endpoints is not empty.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Service     string        `yaml:"service"`
	Balancer    string        `yaml:"balancer"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

func Default() *Config {
	return &Config{
		Trapper: TrapperConfig{
			Host:    "127.0.0.1",
			Port:    10051,
			Timeout: 10 * time.Second,
		},
		API: APIConfig{
			URL: "http://127.0.0.1/api_jsonrpc.php",
		},
		Registry: RegistryConfig{
			DialTimeout: 5 * time.Second,
			Service:     "trapper",
			Balancer:    "consistent_hash",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then
// with the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless the file overrides them.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from ZBX_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("ZBX_SERVER", &c.Trapper.Host)
	str("ZBX_API_URL", &c.API.URL)
	str("ZBX_API_USER", &c.API.User)
	str("ZBX_API_PASSWORD", &c.API.Password)
	str("ZBX_REGISTRY_SERVICE", &c.Registry.Service)
	str("ZBX_BALANCER", &c.Registry.Balancer)
	str("ZBX_LOG_LEVEL", &c.Log.Level)
	str("ZBX_LOG_FILE", &c.Log.File)
	str("ZBX_METRICS_ADDR", &c.MetricsAddr)

	if v, ok := lookup("ZBX_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ZBX_PORT: %w", err)
		}
		c.Trapper.Port = port
	}
	if v, ok := lookup("ZBX_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ZBX_TIMEOUT: %w", err)
		}
		c.Trapper.Timeout = d
	}
	if v, ok := lookup("ZBX_ETCD_ENDPOINTS"); ok && v != "" {
		c.Registry.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Registry.Endpoints = append(c.Registry.Endpoints, ep)
			}
		}
	}
	return nil
}
