package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ykst615/learn-zhihu-api/cmd/server"
	"github.com/ykst615/learn-zhihu-api/cmd/worker"
	appkafka "github.com/ykst615/learn-zhihu-api/internal/broker"
	config "github.com/ykst615/learn-zhihu-api/internal/init"
	"github.com/ykst615/learn-zhihu-api/internal/logger"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

var logg = logger.New()

func main() {
	// Initialize application configuration
	cfg := config.Init()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	defer logg.Sync()

	mode := cfg.Mode
	if mode == "migrate" {
		if err := store.Migrate(cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		logg.Info("main", "Migrations applied")
		return
	}

	// Initialize Cassandra store connection
	st, err := store.New(cfg)
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}
	defer st.Close()

	// Configure Kafka client parameters
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run application depending on selected mode
	switch mode {
	case "server":
		kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		defer kafkaWriter.Close()

		limiter := newLimiter(cfg)
		defer limiter.Close()

		if err := server.Run(ctx, cfg, st, kafkaWriter, limiter); err != nil {
			logg.Error("main", "Server exited with error", err)
		}
	case "worker":
		kafkaReader := appkafka.NewKafkaReader(kafkaCfg)
		w := worker.New(st, kafkaReader, cfg.WorkerCount, 0)
		w.Run(ctx)
		if err := kafkaReader.Close(); err != nil {
			logg.Error("main", "Error closing Kafka reader", err)
		}
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	logg.Info("main", "Shutdown completed")
}

// newLimiter shares login limits through Redis when configured and falls
// back to a process-local limiter otherwise.
func newLimiter(cfg *config.Config) middleware.RateLimiter {
	if cfg.RedisAddr == "" {
		return middleware.NewMemoryRateLimiter()
	}
	limiter, err := middleware.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logg.Error("main", "Redis unavailable, using in-memory rate limiter", err)
		return middleware.NewMemoryRateLimiter()
	}
	return limiter
}
