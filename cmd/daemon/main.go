// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainpass/chainpass/internal/anticheat"
	"github.com/chainpass/chainpass/internal/api"
	"github.com/chainpass/chainpass/internal/attendance"
	"github.com/chainpass/chainpass/internal/audit"
	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/bus"
	"github.com/chainpass/chainpass/internal/cache"
	"github.com/chainpass/chainpass/internal/chain"
	"github.com/chainpass/chainpass/internal/config"
	"github.com/chainpass/chainpass/internal/daemon"
	"github.com/chainpass/chainpass/internal/health"
	cplog "github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/realtime"
	"github.com/chainpass/chainpass/internal/scan"
	"github.com/chainpass/chainpass/internal/session"
	"github.com/chainpass/chainpass/internal/storage"
	"github.com/chainpass/chainpass/internal/telemetry"
	"github.com/chainpass/chainpass/internal/token"
	"github.com/chainpass/chainpass/internal/transport/ws"
	buildinfo "github.com/chainpass/chainpass/internal/version"
)

var (
	version   = buildinfo.Version
	commit    = buildinfo.Commit
	buildDate = buildinfo.Date
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded.
	cplog.Configure(cplog.Config{
		Level:   "info",
		Service: "chainpass",
		Version: version,
	})
	logger := cplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise CHAINPASS_CONFIG,
	// otherwise ./config.yaml if it exists.
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with the loaded level.
	cplog.Configure(cplog.Config{
		Level:   cfg.Log.Level,
		Service: "chainpass",
		Version: version,
	})

	if effectiveConfigPath != "" {
		source := "file"
		if explicitConfigPath == "" {
			source = "file(auto)"
		}
		logger.Info().
			Str("event", "config.loaded").
			Str("source", source).
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.OTLPEndpoint != "",
		ServiceName:    "chainpass",
		ServiceVersion: version,
		Environment:    config.ParseString("CHAINPASS_ENV", "production"),
		ExporterType:   cfg.Telemetry.OTLPProtocol,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize telemetry")
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "storage.open_failed").
			Str("backend", cfg.Storage.Backend).
			Msg("failed to open store")
	}

	tokenCache := cache.NewMemoryCache(time.Minute)
	sessionCache := cache.NewMemoryCache(time.Minute)

	// Realtime fan-out: services publish to the bus, the hub fans out to
	// websocket clients. Disabled realtime leaves the sink nil; services
	// fall back to a no-op sink.
	var (
		sink      realtime.Sink
		hub       *ws.Hub
		wsHandler http.Handler
	)
	if cfg.Realtime.Enabled {
		b := bus.NewMemoryBus()
		sink = realtime.NewBusSink(b)
		hub = ws.NewHub(b, cfg.Server.CORSOrigins)
		wsHandler = hub
	}

	tokens := token.NewService(store, tokenCache, cfg.Token.RotatingCacheTTL)
	records := attendance.NewService(store, sink)
	sessions := session.NewService(store, sessionCache, session.Config{
		CacheTTL:             cfg.Token.SessionCacheTTL,
		RotatingTTL:          cfg.Token.RotatingTTL,
		DefaultOwnerTransfer: cfg.Chain.OwnerTransfer,
		ReportDir:            cfg.Report.Dir,
	}, tokens, records)
	chains := chain.NewService(store, tokens, records, sink, chain.Config{
		BatonTTL:       cfg.Token.ChainTTL,
		StallThreshold: cfg.Chain.StallThreshold,
	})
	limiter := anticheat.NewLimiter(anticheat.LimiterConfig{
		DeviceLimit: cfg.AntiCheat.DeviceLimit,
		IPLimit:     cfg.AntiCheat.IPLimit,
		Window:      cfg.AntiCheat.Window,
	})
	recorder := anticheat.NewRecorder(store)
	pipeline := scan.NewPipeline(sessions, tokens, chains, records, limiter, recorder)
	resolver := auth.NewResolver(cfg.Auth.PrincipalHeader, cfg.Auth.StudentDomain, cfg.Auth.TeacherDomain)
	auditor := audit.NewLogger()

	sweeper := &chain.Sweeper{
		Chains:   chains,
		Sessions: sessions,
		Conf:     chain.SweeperConfig{Interval: cfg.Chain.SweepInterval},
	}

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewStoreChecker("store", store))
	if cfg.Chain.SweepInterval > 0 {
		healthMgr.RegisterChecker(health.NewLastRunChecker("stall-sweeper", 3*cfg.Chain.SweepInterval, func() (time.Time, string) {
			return sweeper.LastSweep(), ""
		}))
	}

	api.SetTrustedProxies(cfg.Server.TrustedProxies)

	tracingService := ""
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracingService = "chainpass"
	}
	server := api.NewServer(api.Config{
		PublicBaseURL:      cfg.Server.PublicBaseURL,
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitRPM:       cfg.Server.RateLimitRPM,
		TracingService:     tracingService,
		DefaultChainLength: cfg.Chain.DefaultLength,
		RealtimeEnabled:    cfg.Realtime.Enabled,
		NegotiateTTL:       cfg.Realtime.NegotiateTTL,
	}, sessions, chains, pipeline, records, recorder, resolver, auditor, healthMgr, wsHandler)

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting chainpass")

	logger.Info().Msgf("→ Storage: %s", cfg.Storage.Backend)
	logger.Info().Msgf("→ Rotating QR: %s rotation, %s cache", cfg.Token.RotatingTTL, cfg.Token.RotatingCacheTTL)
	logger.Info().Msgf("→ Chain: baton %s, stall after %s, sweep every %s", cfg.Token.ChainTTL, cfg.Chain.StallThreshold, cfg.Chain.SweepInterval)
	logger.Info().Msgf("→ Anti-cheat: %d/device, %d/IP per %s window", cfg.AntiCheat.DeviceLimit, cfg.AntiCheat.IPLimit, cfg.AntiCheat.Window)
	if cfg.Realtime.Enabled {
		logger.Info().Msgf("→ Realtime: enabled (negotiate TTL %s)", cfg.Realtime.NegotiateTTL)
	} else {
		logger.Info().Msg("→ Realtime: disabled")
	}
	if cfg.Report.Dir != "" {
		logger.Info().Msgf("→ Reports: %s", cfg.Report.Dir)
	} else {
		logger.Info().Msg("→ Reports: disabled")
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		logger.Info().Msgf("→ Telemetry: OTLP %s via %s", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.OTLPProtocol)
	} else {
		logger.Info().Msg("→ Telemetry: disabled")
	}

	cfgHolder := config.NewHolder(cfg, loader, effectiveConfigPath)

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		APIHandler:     server.Router(),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    strings.TrimSpace(cfg.Server.MetricsAddr),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation_failed").
			Msg("failed to create daemon manager")
	}

	// LIFO: caches stop first, then the store closes, telemetry flushes last.
	mgr.RegisterShutdownHook("telemetry", tracer.Shutdown)
	mgr.RegisterShutdownHook("storage", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("caches", func(context.Context) error {
		tokenCache.Stop()
		sessionCache.Stop()
		return nil
	})

	// Settings a running daemon can apply without a restart.
	onReload := func(newCfg config.AppConfig) {
		cplog.Configure(cplog.Config{
			Level:   newCfg.Log.Level,
			Service: "chainpass",
			Version: version,
		})
		api.SetTrustedProxies(newCfg.Server.TrustedProxies)
		limiter.SetLimits(newCfg.AntiCheat.DeviceLimit, newCfg.AntiCheat.IPLimit)
		chains.SetStallThreshold(newCfg.Chain.StallThreshold)
	}

	var workers []daemon.Worker
	if cfg.Chain.SweepInterval > 0 {
		workers = append(workers, daemon.Worker{
			Name: "stall-sweeper",
			Run: func(ctx context.Context) error {
				sweeper.Run(ctx)
				return nil
			},
		})
	}
	if hub != nil {
		workers = append(workers, daemon.Worker{Name: "realtime-hub", Run: hub.Run})
	}

	app := daemon.NewApp(logger, mgr, cfgHolder, onReload, workers)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
