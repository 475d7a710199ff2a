package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/mogile/internal/tracker"
)

// Config is the client configuration shared by the command-line tools.
type Config struct {
	Trackers           []string          `yaml:"trackers"`
	Domain             string            `yaml:"domain"`
	Timeout            time.Duration     `yaml:"timeout"`
	ConnectTimeout     time.Duration     `yaml:"connect_timeout"`
	PreferredIPTimeout time.Duration     `yaml:"preferred_ip_timeout"`
	PreferredIPs       map[string]string `yaml:"preferred_ips"`
	ReadOnly           bool              `yaml:"readonly"`
	LogLevel           string            `yaml:"log_level"`
	LogFormat          string            `yaml:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Timeout:            tracker.DefaultTimeout,
		ConnectTimeout:     tracker.DefaultConnectTimeout,
		PreferredIPTimeout: tracker.DefaultPreferredTimeout,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load layers the configuration: defaults, then the YAML file at path (or
// $MOGILE_CONFIG when path is empty), then environment overrides. The result
// is not validated; flags may still change it.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path == "" {
		path, _ = lookup("MOGILE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MOGILE_TRACKERS"); ok && v != "" {
		c.Trackers = SplitList(v)
	}
	if v, ok := lookup("MOGILE_DOMAIN"); ok && v != "" {
		c.Domain = v
	}
	if v, ok := lookup("MOGILE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MOGILE_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v, ok := lookup("MOGILE_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	if len(c.Trackers) == 0 {
		errs = append(errs, errors.New("no trackers configured"))
	}
	for _, t := range c.Trackers {
		if _, err := tracker.ParseAddress(t); err != nil {
			errs = append(errs, err)
		}
	}
	for name, d := range map[string]time.Duration{
		"timeout":              c.Timeout,
		"connect_timeout":      c.ConnectTimeout,
		"preferred_ip_timeout": c.PreferredIPTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// NewPool builds the tracker pool described by the configuration.
func (c Config) NewPool() (*tracker.HostPool, error) {
	addrs, err := tracker.ParseAddresses(c.Trackers)
	if err != nil {
		return nil, err
	}
	return tracker.NewHostPool(addrs, tracker.WithPreferredIPs(c.PreferredIPs)), nil
}

// ConnOptions returns the tracker.Conn options matching the configured timeouts.
func (c Config) ConnOptions(log logrus.FieldLogger) []tracker.ConnOption {
	return []tracker.ConnOption{
		tracker.WithTimeout(c.Timeout),
		tracker.WithConnectTimeout(c.ConnectTimeout),
		tracker.WithPreferredTimeout(c.PreferredIPTimeout),
		tracker.WithLogger(log),
	}
}
