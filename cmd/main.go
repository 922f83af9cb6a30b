package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/live-service/internal/config"
	"github.com/weiawesome/wes-io-live/live-service/internal/events"
	"github.com/weiawesome/wes-io-live/live-service/internal/handler"
	"github.com/weiawesome/wes-io-live/live-service/internal/hub"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
	"github.com/weiawesome/wes-io-live/live-service/internal/service"
	"github.com/weiawesome/wes-io-live/live-service/internal/store"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "live-service",
	})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting live-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(registry); err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	redisOpts := &redis.Options{
		Addr:     cfg.PubSub.Redis.Address,
		Password: cfg.PubSub.Redis.Password,
		DB:       cfg.PubSub.Redis.DB,
	}

	// The redis publisher and the live index share one client.
	var redisClient *redis.Client
	if cfg.PubSub.Driver == "redis" {
		redisClient = redis.NewClient(redisOpts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.PubSub.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		logger.Info().Str("address", cfg.PubSub.Redis.Address).Msg("connected to redis")
	}

	// Lifecycle publisher. The service keeps working without it.
	var shared redis.UniversalClient
	if redisClient != nil {
		shared = redisClient
	}
	publisher, err := pubsub.New(ctx, cfg.PubSub, shared)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create lifecycle publisher, events disabled")
		publisher = pubsub.NopPublisher{}
	} else {
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("lifecycle publisher ready")
	}
	defer publisher.Close()

	var index store.LiveIndex
	if cfg.Index.Enabled {
		if shared != nil {
			index = store.NewRedisStore(shared, cfg.Index.TTL)
		} else {
			index, err = store.DialRedisStore(ctx, redisOpts, cfg.Index.TTL)
			if err != nil {
				logger.Fatal().Err(err).Str("address", cfg.PubSub.Redis.Address).Msg("failed to open live index")
			}
		}
		defer index.Close()
		logger.Info().Dur("ttl", cfg.Index.TTL).Msg("live index enabled")
	}

	dispatcher := events.NewDispatcher(publisher, index, m, cfg.Events.Buffer)

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket, m)
	go wsHub.Run(ctx)

	// Initialize service
	liveSvc := service.NewLiveService(wsHub, service.Options{
		NotifyDrops:       cfg.Signal.NotifyDrops,
		BattleMaxDuration: cfg.Battle.MaxDuration,
		Metrics:           m,
		Emitter:           dispatcher,
	})

	dispatcher.RefreshFrom(liveSvc.ActiveStreams, cfg.Index.TTL/2)
	go dispatcher.Run(ctx)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewWSHandler(wsHub, liveSvc, m).RegisterRoutes(r)
	handler.NewHandler(liveSvc, index, cfg.WebRTC, registry).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("live-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down live-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Closing the sockets runs every disconnect handler, whose lifecycle
	// events must still reach the dispatcher.
	cancel()
	liveSvc.Stop()
	waitForClients(wsHub, 5*time.Second)
	dispatcher.Close()

	logger.Info().Msg("live-service stopped")
}

func waitForClients(h *hub.Hub, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for h.ClientCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}
