// Package store selects the snapshot storage backend from configuration.
package store

import (
	"log/slog"
	"os"

	"github.com/sigap-ai/sigapd/cmd/monitord/config"
	"github.com/sigap-ai/sigapd/pkg/storage"
)

// New builds the configured storage backend. The process exits on a
// misconfigured or unreachable backend; monitord cannot run without one.
func New(cfg *config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("using redis snapshot store", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		return s
	default:
		logger.Info("using in-memory snapshot store")
		return storage.NewMemoryStore()
	}
}
