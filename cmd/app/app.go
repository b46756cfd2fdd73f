package main

import (
	"context"
	"fmt"

	"bonus_system/internal/cache"
	"bonus_system/internal/queue"
	"bonus_system/internal/repository"
	"bonus_system/internal/service"
	"bonus_system/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// app is the wired process: storage, queue, cache and services.
type app struct {
	cfg   *Config
	repo  *repository.Repository
	redis *redis.Client
	queue queue.Queue
	svc   *service.Service
}

func newApp(ctx context.Context, cfg *Config, publisher service.EventPublisher) (*app, error) {
	log := logger.Logger()

	repo, err := repository.New(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, repo: repo}

	var balances cache.BalanceCache
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.queue = queue.NewRedisQueue(a.redis, cfg.Queue)
		balances = cache.NewRedisCache(a.redis, "", cfg.Cache.TTL)
		log.Info("using redis queue and cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		a.queue = queue.NewMemoryQueue(cfg.Queue)
		balances = cache.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL)
		log.Info("using in-process queue and cache")
	}

	a.svc = service.New(service.Deps{
		Repo:      repo,
		Queue:     a.queue,
		Cache:     balances,
		Sender:    service.NewBotSender(cfg.Telegram.APIEndpoint),
		Publisher: publisher,
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
	})
	a.svc.Processors.Register(a.queue)

	return a, nil
}

// startWorkers launches the queue workers and the expiry scheduler.
func (a *app) startWorkers(ctx context.Context) (*service.ExpiryScheduler, error) {
	if err := a.queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start queue: %w", err)
	}

	scheduler, err := service.NewExpiryScheduler(a.svc.Bonuses, a.cfg.Scheduler.ExpirySchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry schedule: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

func (a *app) close() {
	log := logger.Logger()

	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Error("failed to close queue", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Error("failed to close redis", zap.Error(err))
		}
	}
	if err := a.repo.Close(); err != nil {
		log.Error("failed to close repository", zap.Error(err))
	}
}
