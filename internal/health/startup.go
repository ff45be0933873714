// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/config"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/persistence/sqlite"
)

// PerformStartupChecks validates the environment and dependencies before starting the server.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkListenAddrs(logger, cfg.Server); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}

	if err := checkStorage(logger, cfg.Storage); err != nil {
		return fmt.Errorf("storage check failed: %w", err)
	}

	if err := checkReportDir(logger, cfg.Report.Dir); err != nil {
		return fmt.Errorf("report directory check failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkListenAddrs(logger zerolog.Logger, srv config.ServerConfig) error {
	for _, addr := range []string{srv.ListenAddr, srv.MetricsAddr} {
		if addr == "" {
			continue
		}
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, addr)
		}
	}
	logger.Info().Str("addr", srv.ListenAddr).Str("metrics_addr", srv.MetricsAddr).Msg("✓ Listen addresses are valid")

	if srv.PublicBaseURL != "" {
		u, err := url.Parse(srv.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("invalid public base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("public base URL scheme must be http or https, got: %s", u.Scheme)
		}
		logger.Info().Str("url", srv.PublicBaseURL).Msg("✓ Public base URL is valid")
	}

	return nil
}

func checkStorage(logger zerolog.Logger, st config.StorageConfig) error {
	switch strings.ToLower(st.Backend) {
	case "memory":
		logger.Warn().
			Str("store_backend", st.Backend).
			Msg("in-memory store configured; attendance state is not persistent across restarts")
		return nil

	case "badger":
		if st.Path == "" {
			return fmt.Errorf("badger backend requires a data path")
		}
		if err := ensureWritableDir(st.Path); err != nil {
			return err
		}
		logger.Info().Str("path", st.Path).Msg("✓ Badger data directory is writable")
		return nil

	case "sqlite":
		if st.Path == "" {
			return fmt.Errorf("sqlite backend requires a database path")
		}
		if err := ensureWritableDir(filepath.Dir(st.Path)); err != nil {
			return err
		}
		if _, err := os.Stat(st.Path); err == nil {
			issues, err := sqlite.VerifyIntegrity(st.Path, "quick")
			if err != nil {
				return fmt.Errorf("sqlite integrity check failed to run: %w", err)
			}
			if issues != nil {
				return fmt.Errorf("sqlite database is corrupted: %v", issues)
			}
		}
		logger.Info().Str("path", st.Path).Msg("✓ SQLite database directory is writable")
		return nil

	case "redis":
		if st.RedisAddr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
		if _, _, err := net.SplitHostPort(st.RedisAddr); err != nil {
			return fmt.Errorf("invalid redis address %q: %w", st.RedisAddr, err)
		}
		logger.Info().Str("addr", st.RedisAddr).Msg("✓ Redis address is valid")
		return nil

	default:
		return fmt.Errorf("unknown storage backend: %q (supported: memory, badger, redis, sqlite)", st.Backend)
	}
}

func checkReportDir(logger zerolog.Logger, dir string) error {
	if dir == "" {
		return nil
	}
	if err := ensureWritableDir(dir); err != nil {
		return err
	}
	logger.Info().Str("path", dir).Msg("✓ Report directory is writable")
	return nil
}

func ensureWritableDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	return nil
}
