package main

import (
	"github.com/turtacn/ChargeAssign/internal/app"
	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/config"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/redis"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/handlers"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/middleware"
)

// healthCheckers reports the repository plus whichever backing services are
// configured.
func healthCheckers(cfg *config.Config, svc *charging.Service, stores *app.Stores, cache *redis.Client) []handlers.HealthChecker {
	checkers := []handlers.HealthChecker{handlers.RepositoryChecker(svc.Ready)}
	if cfg.Repository.Source == "postgres" {
		checkers = append(checkers, handlers.CheckerFunc("postgres", stores.HealthCheck))
	}
	if cache != nil {
		checkers = append(checkers, handlers.CheckerFunc("redis", cache.Ping))
	}
	return checkers
}

func corsConfig(origins []string) *middleware.CORSConfig {
	if len(origins) == 0 {
		return nil
	}
	c := middleware.DefaultCORSConfig()
	c.AllowedOrigins = origins
	c.AllowWildcard = true
	return &c
}

func rateLimit(cfg config.ServerConfig) (*middleware.TokenBucketLimiter, middleware.RateLimitConfig) {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS <= 0 {
		return nil, rl
	}
	rl.RequestsPerSecond = cfg.RateLimitRPS
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return middleware.NewTokenBucketLimiter(rl.RequestsPerSecond, rl.BurstSize, rl.CleanupInterval), rl
}
