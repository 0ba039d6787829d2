package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peerdax/exchange/internal/config"
	"github.com/peerdax/exchange/internal/database"
	"github.com/peerdax/exchange/internal/engine"
	"github.com/peerdax/exchange/internal/events"
	"github.com/peerdax/exchange/internal/ledger"
	"github.com/peerdax/exchange/internal/order"
	"github.com/peerdax/exchange/internal/trades"
	"github.com/peerdax/exchange/pkg/logger"
	"github.com/peerdax/exchange/pkg/metrics"
	"github.com/peerdax/exchange/pkg/models"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("PEERDAX_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.Order{},
		&models.Trade{},
		&models.LedgerEntry{},
	); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Wire event publishers per configuration
	var publishers []events.Publisher
	if cfg.Kafka.Enabled {
		publishers = append(publishers, events.NewKafkaPublisher(cfg.Kafka.Brokers, zapLogger))
	}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publishers = append(publishers, events.NewRedisPublisher(redisClient, zapLogger))
	}
	emitter := events.NewEmitter(publishers, zapLogger)

	// Create services
	ledgerSvc := ledger.NewService(zapLogger, db)
	orderRepo := order.NewRepository(zapLogger)
	recorder := trades.NewRecorder(zapLogger)

	engineSvc, err := engine.NewService(zapLogger, db, ledgerSvc, orderRepo, recorder, emitter, cfg.Trading.Pair, cfg.Trading.LockTimeout)
	if err != nil {
		zapLogger.Fatal("Failed to create engine service", zap.Error(err))
	}

	// Sample book depth every 30s
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for range ticker.C {
			counts, err := engineSvc.BookDepth(context.Background())
			if err != nil {
				zapLogger.Error("Book depth sample failed", zap.Error(err))
				continue
			}
			for side, n := range counts {
				metrics.OpenOrders.WithLabelValues(side).Set(float64(n))
			}
		}
	}()

	// Serve Prometheus metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		zapLogger.Info("Starting metrics server", zap.String("addr", cfg.Server.MetricsAddr))
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
			zapLogger.Fatal("Metrics server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Engine started",
		zap.String("pair", cfg.Trading.Pair),
		zap.Int("publishers", len(publishers)))

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")
}
