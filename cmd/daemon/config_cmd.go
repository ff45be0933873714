// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chainpass/chainpass/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  chainpass config validate [--file|-f config.yaml]")
	fmt.Fprintln(os.Stderr, "  chainpass config dump --effective [--file|-f config.yaml] [--format=yaml|json]")
}

// resolveDefaultConfigPath picks the config file when --config is absent:
// CHAINPASS_CONFIG if set, else ./config.yaml if it exists.
func resolveDefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("CHAINPASS_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("chainpass config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required (no config.yaml found)")
		return 2
	}

	loader := config.NewLoader(configPath, version)
	if _, err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Printf("✓ %s is valid\n", configPath)
	return 0
}

func runConfigDump(args []string) int {
	fs := flag.NewFlagSet("chainpass config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	var format string
	var effective bool

	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.BoolVar(&effective, "effective", false, "dump effective configuration (defaults + file + env)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !effective {
		fmt.Fprintln(os.Stderr, "Error: --effective is required")
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fileCfg := fileConfigFromAppConfig(cfg)
	redactFileConfigSecrets(&fileCfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

func fileConfigFromAppConfig(cfg config.AppConfig) config.FileConfig {
	rateLimitRPM := cfg.Server.RateLimitRPM
	redisDB := cfg.Storage.RedisDB
	defaultLength := cfg.Chain.DefaultLength
	ownerTransfer := cfg.Chain.OwnerTransfer
	deviceLimit := cfg.AntiCheat.DeviceLimit
	ipLimit := cfg.AntiCheat.IPLimit
	realtimeEnabled := cfg.Realtime.Enabled
	sampleRatio := cfg.Telemetry.SampleRatio
	insecure := cfg.Telemetry.Insecure

	var out config.FileConfig
	out.Server.Listen = cfg.Server.ListenAddr
	out.Server.MetricsListen = cfg.Server.MetricsAddr
	out.Server.PublicBaseURL = cfg.Server.PublicBaseURL
	out.Server.ReadTimeout = cfg.Server.ReadTimeout.String()
	out.Server.WriteTimeout = cfg.Server.WriteTimeout.String()
	out.Server.IdleTimeout = cfg.Server.IdleTimeout.String()
	out.Server.ShutdownTimeout = cfg.Server.ShutdownTimeout.String()
	out.Server.CORSOrigins = cfg.Server.CORSOrigins
	out.Server.RateLimitRPM = &rateLimitRPM
	out.Server.TrustedProxies = cfg.Server.TrustedProxies

	out.Storage.Backend = cfg.Storage.Backend
	out.Storage.Path = cfg.Storage.Path
	out.Storage.RedisAddr = cfg.Storage.RedisAddr
	out.Storage.RedisPassword = cfg.Storage.RedisPassword
	out.Storage.RedisDB = &redisDB

	out.Auth.PrincipalHeader = cfg.Auth.PrincipalHeader
	out.Auth.StudentDomain = cfg.Auth.StudentDomain
	out.Auth.TeacherDomain = cfg.Auth.TeacherDomain

	out.Token.RotatingTTL = cfg.Token.RotatingTTL.String()
	out.Token.RotatingCacheTTL = cfg.Token.RotatingCacheTTL.String()
	out.Token.ChainTTL = cfg.Token.ChainTTL.String()
	out.Token.SessionCacheTTL = cfg.Token.SessionCacheTTL.String()

	out.Chain.DefaultLength = &defaultLength
	out.Chain.StallThreshold = cfg.Chain.StallThreshold.String()
	out.Chain.SweepInterval = cfg.Chain.SweepInterval.String()
	out.Chain.OwnerTransfer = &ownerTransfer

	out.AntiCheat.DeviceLimit = &deviceLimit
	out.AntiCheat.IPLimit = &ipLimit
	out.AntiCheat.Window = cfg.AntiCheat.Window.String()

	out.Realtime.Enabled = &realtimeEnabled
	out.Realtime.NegotiateTTL = cfg.Realtime.NegotiateTTL.String()

	out.Telemetry.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	out.Telemetry.OTLPProtocol = cfg.Telemetry.OTLPProtocol
	out.Telemetry.SampleRatio = &sampleRatio
	out.Telemetry.Insecure = &insecure

	out.Log.Level = cfg.Log.Level
	out.Report.Dir = cfg.Report.Dir
	return out
}

func redactFileConfigSecrets(cfg *config.FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.Storage.RedisPassword != "" {
		cfg.Storage.RedisPassword = "***"
	}
}
