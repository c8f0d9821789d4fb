package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/warc-manager/internal/config"
	"github.com/bigkaa/warc-manager/internal/database"
	"github.com/bigkaa/warc-manager/internal/manifestclient"
	"github.com/bigkaa/warc-manager/internal/repository"
	"github.com/bigkaa/warc-manager/internal/service"
)

// commandContext лениво создаёт зависимости команд и освобождает их в close.
type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     *slog.Logger

	pool *pgxpool.Pool
	rdb  *redis.Client
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = config.SetupLogger(cfg)
	})
	return c.config, c.configErr
}

func (c *commandContext) db(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *commandContext) redisClient(ctx context.Context) (*redis.Client, error) {
	if c.rdb != nil {
		return c.rdb, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Redis %s недоступен: %w", cfg.RedisAddr, err)
	}
	c.rdb = rdb
	return rdb, nil
}

// workflow собирает протокол check → confirm так же, как HTTP-сервис.
func (c *commandContext) workflow(ctx context.Context) (*service.Workflow, error) {
	pool, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	cfg := c.config

	var (
		locker  service.Locker = service.NewKeyedMutex()
		starter service.DownloadStarter
	)
	starter = service.NewLogStarter(c.logger)
	if cfg.RedisEnabled() {
		rdb, err := c.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		locker = service.NewRedisLocker(rdb, cfg.LockTTL, c.logger)
		starter = service.NewRedisQueueStarter(rdb, cfg.DownloadQueue, c.logger)
	}

	manifest, err := manifestclient.New(manifestclient.Config{
		BaseURL:    cfg.ManifestURL,
		Username:   cfg.ManifestUser,
		Password:   cfg.ManifestPassword,
		Timeout:    cfg.ManifestTimeout,
		CACertPath: cfg.ManifestCACertPath,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	aggregator := service.NewAggregator(manifest, cfg.ManifestMaxPages, cfg.AggregationTimeout, c.logger)

	return service.NewWorkflow(repository.NewCollectionRepository(pool), aggregator, starter, locker, nil,
		service.WorkflowConfig{
			MaxConcurrentAggregations: 1,
			StartTimeout:              cfg.StartTimeout,
		}, c.logger), nil
}

func (c *commandContext) collections(ctx context.Context) (*service.CollectionService, error) {
	pool, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewCollectionService(repository.NewCollectionRepository(pool), nil, c.logger), nil
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.rdb != nil {
		c.rdb.Close()
	}
}
