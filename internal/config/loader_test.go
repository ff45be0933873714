// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60*time.Second, cfg.Token.RotatingTTL)
	assert.Equal(t, 20*time.Second, cfg.Token.ChainTTL)
	assert.Equal(t, 90*time.Second, cfg.Chain.StallThreshold)
	assert.Equal(t, 10, cfg.AntiCheat.DeviceLimit)
	assert.Equal(t, 50, cfg.AntiCheat.IPLimit)
}

func TestLoadENVOnly(t *testing.T) {
	t.Setenv("CHAINPASS_LISTEN_ADDR", ":9999")
	t.Setenv("CHAINPASS_STALL_THRESHOLD", "2m")
	t.Setenv("CHAINPASS_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 2*time.Minute, cfg.Chain.StallThreshold)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "v-test", cfg.Version)
}

func TestLoadFileThenENVPrecedence(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen: ":7070"
  publicBaseUrl: "https://attend.example.edu"
chain:
  stallThreshold: "45s"
log:
  level: "debug"
`)
	t.Setenv("CHAINPASS_LISTEN_ADDR", ":6060")

	cfg, err := NewLoader(path, "v1").Load()
	require.NoError(t, err)

	// ENV wins over file; file wins over defaults.
	assert.Equal(t, ":6060", cfg.Server.ListenAddr)
	assert.Equal(t, "https://attend.example.edu", cfg.Server.PublicBaseURL)
	assert.Equal(t, 45*time.Second, cfg.Chain.StallThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched values keep defaults.
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen: ":7070"
stallThreshold: "45s"
`)
	_, err := NewLoader(path, "v1").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse")
}

func TestLoadRejectsNonYAMLExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path, "v1").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
storage:
  backend: "cassandra"
`)
	_, err := NewLoader(path, "v1").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestValidateRotatingCacheShorterThanTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Token.RotatingCacheTTL = cfg.Token.RotatingTTL
	require.Error(t, Validate(cfg))

	cfg.Token.RotatingCacheTTL = cfg.Token.RotatingTTL - time.Second
	require.NoError(t, Validate(cfg))
}

func TestValidateStorageBackends(t *testing.T) {
	cfg := Defaults()

	cfg.Storage.Backend = "badger"
	cfg.Storage.Path = ""
	require.Error(t, Validate(cfg))
	cfg.Storage.Path = "/var/lib/chainpass"
	require.NoError(t, Validate(cfg))

	cfg.Storage.Backend = "redis"
	cfg.Storage.RedisAddr = ""
	require.Error(t, Validate(cfg))
	cfg.Storage.RedisAddr = "localhost:6379"
	require.NoError(t, Validate(cfg))
}

func TestParseBoolValues(t *testing.T) {
	for raw, want := range map[string]bool{
		"true": true, "1": true, "yes": true,
		"false": false, "0": false, "no": false,
	} {
		t.Setenv("CHAINPASS_TEST_BOOL", raw)
		assert.Equal(t, want, ParseBool("CHAINPASS_TEST_BOOL", !want), raw)
	}

	t.Setenv("CHAINPASS_TEST_BOOL", "maybe")
	assert.True(t, ParseBool("CHAINPASS_TEST_BOOL", true))
}

func TestParseDurationFallback(t *testing.T) {
	t.Setenv("CHAINPASS_TEST_DUR", "not-a-duration")
	assert.Equal(t, 30*time.Second, ParseDuration("CHAINPASS_TEST_DUR", 30*time.Second))

	t.Setenv("CHAINPASS_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, ParseDuration("CHAINPASS_TEST_DUR", 30*time.Second))
}

func TestParseStringSliceTrimsAndDrops(t *testing.T) {
	t.Setenv("CHAINPASS_TEST_SLICE", " a , ,b,")
	assert.Equal(t, []string{"a", "b"}, ParseStringSlice("CHAINPASS_TEST_SLICE", nil))

	t.Setenv("CHAINPASS_TEST_SLICE", "")
	assert.Equal(t, []string{"x"}, ParseStringSlice("CHAINPASS_TEST_SLICE", []string{"x"}))
}
