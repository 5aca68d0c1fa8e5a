package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"course_messaging/internal/broadcast"
	"course_messaging/internal/config"
	"course_messaging/internal/handler"
	"course_messaging/internal/middleware"
	"course_messaging/internal/repository"
	"course_messaging/internal/service"
	"course_messaging/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)
	if cfg.IsProduction() {
		appLogger = logger.NewJSON(cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(ctx, cfg, appLogger)
	if rdb != nil {
		defer rdb.Close()
	}

	checks := map[string]handler.HealthCheck{}
	var repos *repository.Repositories

	switch cfg.Database.Driver {
	case config.DriverMemory:
		repos = repository.NewMemoryRepositories(repository.NewMemoryStore(), repository.NewMemoryCourses(), rdb, appLogger)
	default:
		dbPool, err := connectPostgres(ctx, cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, dbPool, appLogger); err != nil {
				appLogger.Fatal("Failed to apply schema", "error", err)
			}
		}

		checks["postgres"] = dbPool.Ping
		repos = repository.NewRepositories(dbPool, rdb, appLogger)
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := broadcast.NewMetrics(registry)
	hub := broadcast.NewHub(metrics, appLogger)

	var publisher service.Publisher = hub
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	if rdb != nil && cfg.Redis.RelayEnabled {
		relay := broadcast.NewRedisRelay(rdb, hub, metrics, appLogger)
		if err := relay.Start(relayCtx); err != nil {
			appLogger.Error("Event relay unavailable, delivering to local sessions only", "error", err)
		} else {
			publisher = relay
		}
	}

	fanout := service.NewFanout(publisher, cfg.Fanout, appLogger)
	services := service.NewServices(repos, fanout, cfg, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	handlers := handler.NewHandlers(services, hub, checks, cfg, appLogger)
	router := handler.SetupRouter(handlers, authMiddleware, rateLimitMiddleware,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "storage", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := fanout.Close(shutdownCtx); err != nil {
		appLogger.Warn("Pending events were not delivered", "error", err)
	}
	cancelRelay()

	appLogger.Info("Server exited")
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// connectRedis returns nil when redis is unreachable and the in-memory
// driver is in use; with postgres it is required.
func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		if cfg.Database.Driver == config.DriverMemory {
			log.Warn("Redis unavailable, running without rate limits and relay", "error", err)
			rdb.Close()
			return nil
		}
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	log.Info("Redis connection established")
	return rdb
}
