package presence

import (
	"context"

	"telecare/internal/core/ports"
	"telecare/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects the presence backend, falling back to memory when Redis is
// disabled or unreachable.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	f := &Factory{useRedis: cfg.Redis.Enabled, logger: logger}

	if cfg.Redis.Enabled {
		client, err := NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory presence", "error", err)
			f.useRedis = false
		} else {
			f.redisClient = client
			logger.Info("using Redis presence")
		}
	}
	if !f.useRedis {
		logger.Info("using memory presence")
	}
	return f, nil
}

func (f *Factory) CreatePresence() ports.Presence {
	if f.useRedis && f.redisClient != nil {
		return NewRedisPresence(f.redisClient, f.logger)
	}
	return NewMemoryPresence()
}

// HealthCheck verifies the Redis connection when it is in use.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
