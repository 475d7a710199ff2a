package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mogile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.PreferredIPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	assert.Error(t, cfg.Validate(), "no trackers")
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
trackers:
  - 10.0.0.1:7001
  - 10.0.0.2:7001
domain: photos
timeout: 5s
preferred_ips:
  10.0.0.2: 10.2.0.2
readonly: true
log_format: json
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:7001", "10.0.0.2:7001"}, cfg.Trackers)
	assert.Equal(t, "photos", cfg.Domain)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout, "unset keys keep defaults")
	assert.Equal(t, map[string]string{"10.0.0.2": "10.2.0.2"}, cfg.PreferredIPs)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NoError(t, cfg.Validate())

	pool, err := cfg.NewPool()
	require.NoError(t, err)
	assert.Len(t, pool.Hosts(), 2)
	targets := pool.ConnectTargets(pool.Hosts()[1])
	require.Len(t, targets, 2)
	assert.Equal(t, "10.2.0.2", targets[0].Addr.Host)
	assert.Len(t, cfg.ConnOptions(nil), 4)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "trackers: [\"10.0.0.1:7001\"]\ndomain: photos\n")
	cfg, err := load("", env(map[string]string{
		"MOGILE_CONFIG":    path,
		"MOGILE_TRACKERS":  "a:7001, b:7001,,",
		"MOGILE_DOMAIN":    "docs",
		"MOGILE_TIMEOUT":   "750ms",
		"MOGILE_LOG_LEVEL": "debug",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:7001", "b:7001"}, cfg.Trackers)
	assert.Equal(t, "docs", cfg.Domain)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.Error(t, err)

	_, err = load(writeConfig(t, "trackers: {not: a list"), env(nil))
	assert.Error(t, err)

	_, err = load("", env(map[string]string{"MOGILE_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "MOGILE_TIMEOUT")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Trackers = []string{"10.0.0.1:7001"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no trackers", func(c *Config) { c.Trackers = nil }, "no trackers"},
		{"missing port", func(c *Config) { c.Trackers = []string{"10.0.0.1"} }, "host:port"},
		{"bad port", func(c *Config) { c.Trackers = []string{"10.0.0.1:x"} }, "port must be an integer"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be positive"},
		{"negative connect timeout", func(c *Config) { c.ConnectTimeout = -time.Second }, "connect_timeout"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "loud"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Trackers = append([]string(nil), valid.Trackers...)
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
