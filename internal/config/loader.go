// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. configPath may be empty for
// ENV-only operation.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// Load resolves the full configuration: defaults, then the YAML file (strict
// parse, unknown fields rejected), then environment overrides, then
// validation. On any error the returned config must not be used.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	mergeEnvConfig(&cfg)

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields cause an error to surface typos early.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

// mergeFileConfig overlays file values onto cfg. Empty strings and nil
// pointers mean "not set in file" and leave the default in place.
func mergeFileConfig(cfg *AppConfig, src *FileConfig) {
	setString(&cfg.Server.ListenAddr, src.Server.Listen)
	setString(&cfg.Server.MetricsAddr, src.Server.MetricsListen)
	setString(&cfg.Server.PublicBaseURL, src.Server.PublicBaseURL)
	setDuration(&cfg.Server.ReadTimeout, src.Server.ReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, src.Server.WriteTimeout)
	setDuration(&cfg.Server.IdleTimeout, src.Server.IdleTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, src.Server.ShutdownTimeout)
	if len(src.Server.CORSOrigins) > 0 {
		cfg.Server.CORSOrigins = src.Server.CORSOrigins
	}
	setInt(&cfg.Server.RateLimitRPM, src.Server.RateLimitRPM)
	if len(src.Server.TrustedProxies) > 0 {
		cfg.Server.TrustedProxies = src.Server.TrustedProxies
	}

	setString(&cfg.Storage.Backend, src.Storage.Backend)
	setString(&cfg.Storage.Path, src.Storage.Path)
	setString(&cfg.Storage.RedisAddr, src.Storage.RedisAddr)
	setString(&cfg.Storage.RedisPassword, src.Storage.RedisPassword)
	setInt(&cfg.Storage.RedisDB, src.Storage.RedisDB)

	setString(&cfg.Auth.PrincipalHeader, src.Auth.PrincipalHeader)
	setString(&cfg.Auth.StudentDomain, src.Auth.StudentDomain)
	setString(&cfg.Auth.TeacherDomain, src.Auth.TeacherDomain)

	setDuration(&cfg.Token.RotatingTTL, src.Token.RotatingTTL)
	setDuration(&cfg.Token.RotatingCacheTTL, src.Token.RotatingCacheTTL)
	setDuration(&cfg.Token.ChainTTL, src.Token.ChainTTL)
	setDuration(&cfg.Token.SessionCacheTTL, src.Token.SessionCacheTTL)

	setInt(&cfg.Chain.DefaultLength, src.Chain.DefaultLength)
	setDuration(&cfg.Chain.StallThreshold, src.Chain.StallThreshold)
	setDuration(&cfg.Chain.SweepInterval, src.Chain.SweepInterval)
	setBool(&cfg.Chain.OwnerTransfer, src.Chain.OwnerTransfer)

	setInt(&cfg.AntiCheat.DeviceLimit, src.AntiCheat.DeviceLimit)
	setInt(&cfg.AntiCheat.IPLimit, src.AntiCheat.IPLimit)
	setDuration(&cfg.AntiCheat.Window, src.AntiCheat.Window)

	setBool(&cfg.Realtime.Enabled, src.Realtime.Enabled)
	setDuration(&cfg.Realtime.NegotiateTTL, src.Realtime.NegotiateTTL)

	setString(&cfg.Telemetry.OTLPEndpoint, src.Telemetry.OTLPEndpoint)
	setString(&cfg.Telemetry.OTLPProtocol, src.Telemetry.OTLPProtocol)
	setFloat(&cfg.Telemetry.SampleRatio, src.Telemetry.SampleRatio)
	setBool(&cfg.Telemetry.Insecure, src.Telemetry.Insecure)

	setString(&cfg.Log.Level, src.Log.Level)
	setString(&cfg.Report.Dir, src.Report.Dir)
}

// mergeEnvConfig overlays CHAINPASS_* environment overrides onto cfg.
func mergeEnvConfig(cfg *AppConfig) {
	cfg.Server.ListenAddr = ParseString("CHAINPASS_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.MetricsAddr = ParseString("CHAINPASS_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.PublicBaseURL = ParseString("CHAINPASS_PUBLIC_BASE_URL", cfg.Server.PublicBaseURL)
	cfg.Server.ReadTimeout = ParseDuration("CHAINPASS_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = ParseDuration("CHAINPASS_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = ParseDuration("CHAINPASS_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = ParseDuration("CHAINPASS_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.CORSOrigins = ParseStringSlice("CHAINPASS_CORS_ORIGINS", cfg.Server.CORSOrigins)
	cfg.Server.RateLimitRPM = ParseInt("CHAINPASS_RATE_LIMIT_RPM", cfg.Server.RateLimitRPM)
	cfg.Server.TrustedProxies = ParseStringSlice("CHAINPASS_TRUSTED_PROXIES", cfg.Server.TrustedProxies)

	cfg.Storage.Backend = ParseString("CHAINPASS_STORE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = ParseString("CHAINPASS_STORE_PATH", cfg.Storage.Path)
	cfg.Storage.RedisAddr = ParseString("CHAINPASS_REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = ParseString("CHAINPASS_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = ParseInt("CHAINPASS_REDIS_DB", cfg.Storage.RedisDB)

	cfg.Auth.PrincipalHeader = ParseString("CHAINPASS_PRINCIPAL_HEADER", cfg.Auth.PrincipalHeader)
	cfg.Auth.StudentDomain = ParseString("CHAINPASS_STUDENT_DOMAIN", cfg.Auth.StudentDomain)
	cfg.Auth.TeacherDomain = ParseString("CHAINPASS_TEACHER_DOMAIN", cfg.Auth.TeacherDomain)

	cfg.Token.RotatingTTL = ParseDuration("CHAINPASS_ROTATING_TOKEN_TTL", cfg.Token.RotatingTTL)
	cfg.Token.RotatingCacheTTL = ParseDuration("CHAINPASS_ROTATING_CACHE_TTL", cfg.Token.RotatingCacheTTL)
	cfg.Token.ChainTTL = ParseDuration("CHAINPASS_CHAIN_TOKEN_TTL", cfg.Token.ChainTTL)
	cfg.Token.SessionCacheTTL = ParseDuration("CHAINPASS_SESSION_CACHE_TTL", cfg.Token.SessionCacheTTL)

	cfg.Chain.DefaultLength = ParseInt("CHAINPASS_CHAIN_LENGTH", cfg.Chain.DefaultLength)
	cfg.Chain.StallThreshold = ParseDuration("CHAINPASS_STALL_THRESHOLD", cfg.Chain.StallThreshold)
	cfg.Chain.SweepInterval = ParseDuration("CHAINPASS_STALL_SWEEP_INTERVAL", cfg.Chain.SweepInterval)
	cfg.Chain.OwnerTransfer = ParseBool("CHAINPASS_CHAIN_OWNER_TRANSFER", cfg.Chain.OwnerTransfer)

	cfg.AntiCheat.DeviceLimit = ParseInt("CHAINPASS_DEVICE_RATE_LIMIT", cfg.AntiCheat.DeviceLimit)
	cfg.AntiCheat.IPLimit = ParseInt("CHAINPASS_IP_RATE_LIMIT", cfg.AntiCheat.IPLimit)
	cfg.AntiCheat.Window = ParseDuration("CHAINPASS_RATE_WINDOW", cfg.AntiCheat.Window)

	cfg.Realtime.Enabled = ParseBool("CHAINPASS_REALTIME_ENABLED", cfg.Realtime.Enabled)
	cfg.Realtime.NegotiateTTL = ParseDuration("CHAINPASS_NEGOTIATE_TTL", cfg.Realtime.NegotiateTTL)

	cfg.Telemetry.OTLPEndpoint = ParseString("CHAINPASS_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.OTLPProtocol = ParseString("CHAINPASS_OTLP_PROTOCOL", cfg.Telemetry.OTLPProtocol)
	cfg.Telemetry.SampleRatio = ParseFloat("CHAINPASS_TRACE_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)
	cfg.Telemetry.Insecure = ParseBool("CHAINPASS_OTLP_INSECURE", cfg.Telemetry.Insecure)

	cfg.Log.Level = ParseString("CHAINPASS_LOG_LEVEL", cfg.Log.Level)
	cfg.Report.Dir = ParseString("CHAINPASS_REPORT_DIR", cfg.Report.Dir)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = os.ExpandEnv(v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
