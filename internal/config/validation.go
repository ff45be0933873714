// SPDX-License-Identifier: MIT

package config

import (
	"github.com/chainpass/chainpass/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("Server.ListenAddr", cfg.Server.ListenAddr)
	v.ListenAddr("Server.MetricsAddr", cfg.Server.MetricsAddr)
	v.URL("Server.PublicBaseURL", cfg.Server.PublicBaseURL, []string{"http", "https"})
	v.PositiveDuration("Server.ReadTimeout", cfg.Server.ReadTimeout)
	v.PositiveDuration("Server.WriteTimeout", cfg.Server.WriteTimeout)
	v.PositiveDuration("Server.ShutdownTimeout", cfg.Server.ShutdownTimeout)
	v.NonNegative("Server.RateLimitRPM", cfg.Server.RateLimitRPM)

	v.OneOf("Storage.Backend", cfg.Storage.Backend, []string{"memory", "badger", "redis", "sqlite"})
	switch cfg.Storage.Backend {
	case "badger", "sqlite":
		v.NotEmpty("Storage.Path", cfg.Storage.Path)
	case "redis":
		v.NotEmpty("Storage.RedisAddr", cfg.Storage.RedisAddr)
		v.NonNegative("Storage.RedisDB", cfg.Storage.RedisDB)
	}

	v.NotEmpty("Auth.PrincipalHeader", cfg.Auth.PrincipalHeader)
	v.Domain("Auth.StudentDomain", cfg.Auth.StudentDomain)
	v.Domain("Auth.TeacherDomain", cfg.Auth.TeacherDomain)

	v.PositiveDuration("Token.RotatingTTL", cfg.Token.RotatingTTL)
	v.PositiveDuration("Token.RotatingCacheTTL", cfg.Token.RotatingCacheTTL)
	v.PositiveDuration("Token.ChainTTL", cfg.Token.ChainTTL)
	v.PositiveDuration("Token.SessionCacheTTL", cfg.Token.SessionCacheTTL)
	if cfg.Token.RotatingCacheTTL >= cfg.Token.RotatingTTL {
		// Cached rotating tokens must expire before the token itself so stale
		// reads can never resurrect an expired token.
		v.AddError("Token.RotatingCacheTTL", "must be shorter than Token.RotatingTTL", cfg.Token.RotatingCacheTTL)
	}

	v.Range("Chain.DefaultLength", cfg.Chain.DefaultLength, 2, 1000)
	v.PositiveDuration("Chain.StallThreshold", cfg.Chain.StallThreshold)
	v.PositiveDuration("Chain.SweepInterval", cfg.Chain.SweepInterval)

	v.Positive("AntiCheat.DeviceLimit", cfg.AntiCheat.DeviceLimit)
	v.Positive("AntiCheat.IPLimit", cfg.AntiCheat.IPLimit)
	v.PositiveDuration("AntiCheat.Window", cfg.AntiCheat.Window)

	if cfg.Realtime.Enabled {
		v.PositiveDuration("Realtime.NegotiateTTL", cfg.Realtime.NegotiateTTL)
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		v.OneOf("Telemetry.OTLPProtocol", cfg.Telemetry.OTLPProtocol, []string{"grpc", "http"})
	}
	v.Ratio("Telemetry.SampleRatio", cfg.Telemetry.SampleRatio)

	v.NotEmpty("Report.Dir", cfg.Report.Dir)

	if !v.IsValid() {
		return v.Err()
	}

	return nil
}
