package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grocery-pricing/config"
	"grocery-pricing/internal/acquisition"
	"grocery-pricing/internal/api"
	"grocery-pricing/internal/broker"
	"grocery-pricing/internal/fetcher"
	"grocery-pricing/internal/redisclient"
	"grocery-pricing/internal/service"
	"grocery-pricing/internal/store"
	"grocery-pricing/internal/util"
	"grocery-pricing/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting grocery pricing service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	priceStore := openStore(cfg, logger)

	var tracker acquisition.DistributedTracker
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		tracker = redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		gatePublisher    acquisition.Publisher
		refreshPublisher api.RefreshPublisher
		eventPublisher   *broker.EventPublisher
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		gatePublisher = eventPublisher
		refreshPublisher = eventPublisher
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicPriceEvents))
	}

	registry, err := buildFetchers(cfg)
	if err != nil {
		logger.Fatal("Failed to configure fetchers", zap.Error(err))
	}
	logger.Info("Fetchers configured",
		zap.String("mode", cfg.Fetchers.Mode),
		zap.Strings("stores", registry.Stores()))

	gate := acquisition.NewGate(registry, priceStore, tracker, gatePublisher, cfg.GateConfig())
	priceService := service.NewPriceService(priceStore, gate, cfg.ServiceConfig())

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var refreshWorker *worker.RefreshWorker
	if eventPublisher != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents, cfg.Kafka.ConsumerGroup)
		refreshWorker = worker.NewRefreshWorker(consumer, gate, cfg.Pricing.DefaultStores)
		go func() {
			if err := refreshWorker.Start(workerCtx); err != nil {
				logger.Error("Refresh worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(priceService, priceStore, refreshPublisher, gate)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if refreshWorker != nil {
		if err := refreshWorker.Stop(); err != nil {
			logger.Warn("Error stopping refresh worker", zap.Error(err))
		}
	}

	if closer, ok := priceStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Error closing price store", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore connects the configured price store and applies the schema
func openStore(cfg *config.Config, logger *zap.Logger) store.PriceStore {
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory price store; observations are lost on restart")
		return store.NewMemoryStore()
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")
	return db
}

// buildFetchers registers one fetcher per store for the configured mode
func buildFetchers(cfg *config.Config) (*fetcher.Registry, error) {
	switch cfg.Fetchers.Mode {
	case config.FetcherModeCatalog:
		fetchers := make([]fetcher.Fetcher, 0, len(cfg.Pricing.DefaultStores))
		for _, storeID := range cfg.Pricing.DefaultStores {
			fetchers = append(fetchers, fetcher.NewCatalogFetcher(storeID))
		}
		return fetcher.NewRegistry(fetchers...), nil

	case config.FetcherModeHTTP:
		if len(cfg.Fetchers.StoreEndpoints) == 0 {
			return nil, fmt.Errorf("FETCHER_MODE=http requires STORE_ENDPOINTS")
		}
		fetchers := make([]fetcher.Fetcher, 0, len(cfg.Fetchers.StoreEndpoints))
		for storeID, endpoint := range cfg.Fetchers.StoreEndpoints {
			f, err := fetcher.NewHTTPFetcher(fetcher.HTTPFetcherConfig{
				Store:     storeID,
				BaseURL:   endpoint,
				UserAgent: cfg.Fetchers.UserAgent,
				Timeout:   time.Duration(cfg.Acquisition.FetchTimeoutSeconds) * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create fetcher for %s: %w", storeID, err)
			}
			fetchers = append(fetchers, f)
		}
		return fetcher.NewRegistry(fetchers...), nil

	default:
		return nil, fmt.Errorf("unknown FETCHER_MODE %q", cfg.Fetchers.Mode)
	}
}
