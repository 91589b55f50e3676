package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"huddlenet/internal/core/services"
	httphandlers "huddlenet/internal/handlers/http"
	"huddlenet/internal/infrastructure/distributed"
	"huddlenet/internal/infrastructure/media"
	"huddlenet/internal/infrastructure/monitoring"
	wssignal "huddlenet/internal/infrastructure/signal"
	"huddlenet/pkg/config"
	"huddlenet/pkg/logger"
	"huddlenet/pkg/tracing"
	"huddlenet/pkg/utils"
)

func main() {
	configPath := os.Getenv("HUDDLENET_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	slog := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "huddlenet-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		slog.Fatalw("failed to init tracing", "error", err)
	}

	engine, err := media.NewEngine(cfg, zlog)
	if err != nil {
		slog.Fatalw("failed to init media engine", "error", err)
	}

	opts := []services.Option{services.WithMaxPeers(cfg.Room.MaxPeers)}
	if cfg.Monitoring.PrometheusEnabled {
		opts = append(opts, services.WithMetrics(monitoring.NewPrometheusCollector()))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		bus := distributed.NewEventBus(redisClient, utils.GenerateInstanceID(), slog)
		opts = append(opts, services.WithEventPublisher(bus))
		slog.Infow("redis event bus enabled", "address", cfg.Redis.Address)
	}

	coordinator := services.NewCoordinator(services.NewRegistry(), engine, zlog, opts...)
	wsServer := wssignal.NewServer(coordinator, cfg, zlog)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"connections": wsServer.ConnectionCount(),
		})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	httphandlers.NewRoomHandler(coordinator).SetupRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: router,
	}

	go func() {
		slog.Infow("signal server listening", "address", cfg.Signal.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	wsServer.Shutdown(ctx)
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Warnw("http shutdown failed", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warnw("redis close failed", "error", err)
		}
	}
	if err := tp.Shutdown(ctx); err != nil {
		slog.Warnw("tracing shutdown failed", "error", err)
	}
	slog.Infow("bye")
}
