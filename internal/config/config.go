// SPDX-License-Identifier: MIT

// Package config provides configuration management for the chainpass daemon.
// Precedence is ENV > file > defaults; all environment keys carry the
// CHAINPASS_ prefix.
package config

import "time"

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	Version string

	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Token     TokenConfig
	Chain     ChainConfig
	AntiCheat AntiCheatConfig
	Realtime  RealtimeConfig
	Telemetry TelemetryConfig
	Log       LogConfig
	Report    ReportConfig
}

// ServerConfig holds the HTTP ingress settings.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string
	PublicBaseURL   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// RateLimitRPM is the per-IP edge limit in requests per minute; zero
	// disables the edge limiter.
	RateLimitRPM int
	// TrustedProxies lists reverse proxy addresses whose forwarding headers
	// are honored when resolving the client IP. Empty means none are trusted
	// and the TCP peer address is used as-is.
	TrustedProxies []string
}

// StorageConfig selects and parameterizes the state store backend.
type StorageConfig struct {
	Backend       string // memory | badger | redis | sqlite
	Path          string // badger directory or sqlite file
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// AuthConfig holds identity resolution settings.
type AuthConfig struct {
	PrincipalHeader string
	StudentDomain   string
	TeacherDomain   string
}

// TokenConfig holds token lifetimes. Rotating tokens (late-entry, early-leave)
// live 60s and are cached slightly shorter so a cached read can never outlive
// the token; chain tokens live 20s and are never cached.
type TokenConfig struct {
	RotatingTTL      time.Duration
	RotatingCacheTTL time.Duration
	ChainTTL         time.Duration
	SessionCacheTTL  time.Duration
}

// ChainConfig holds relay chain settings.
type ChainConfig struct {
	DefaultLength  int
	StallThreshold time.Duration
	SweepInterval  time.Duration
	OwnerTransfer  bool
}

// AntiCheatConfig holds the per-scanner fixed-window scan limits.
type AntiCheatConfig struct {
	DeviceLimit int
	IPLimit     int
	Window      time.Duration
}

// RealtimeConfig holds push notification settings.
type RealtimeConfig struct {
	Enabled      bool
	NegotiateTTL time.Duration
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	OTLPEndpoint string
	OTLPProtocol string // grpc | http
	SampleRatio  float64
	Insecure     bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// ReportConfig holds attendance report export settings.
type ReportConfig struct {
	Dir string
}

// Defaults returns the built-in configuration. The token and anti-cheat
// numbers are protocol constants; overriding them in production changes the
// anti-cheat guarantees and should only be done in test environments.
func Defaults() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MetricsAddr:     ":9090",
			PublicBaseURL:   "http://localhost:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitRPM:    600,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    "./data",
			RedisDB: 0,
		},
		Auth: AuthConfig{
			PrincipalHeader: "x-ms-client-principal",
			StudentDomain:   "stu.edu.hk",
			TeacherDomain:   "vtc.edu.hk",
		},
		Token: TokenConfig{
			RotatingTTL:      60 * time.Second,
			RotatingCacheTTL: 55 * time.Second,
			ChainTTL:         20 * time.Second,
			SessionCacheTTL:  60 * time.Second,
		},
		Chain: ChainConfig{
			DefaultLength:  4,
			StallThreshold: 90 * time.Second,
			SweepInterval:  10 * time.Second,
			OwnerTransfer:  true,
		},
		AntiCheat: AntiCheatConfig{
			DeviceLimit: 10,
			IPLimit:     50,
			Window:      60 * time.Second,
		},
		Realtime: RealtimeConfig{
			Enabled:      true,
			NegotiateTTL: time.Hour,
		},
		Telemetry: TelemetryConfig{
			OTLPProtocol: "grpc",
			SampleRatio:  1.0,
			Insecure:     true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Report: ReportConfig{
			Dir: "./reports",
		},
	}
}
