package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tutorflow/internal/config"
	"tutorflow/internal/journal"
	"tutorflow/internal/queue"
	"tutorflow/internal/store"
)

// Worker drains lifecycle events from the queue into the Postgres journal.
func main() {
	logger := log.New(os.Stdout, "[tutorflow-worker] ", log.LstdFlags|log.Lmicroseconds)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("warning: .env not loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend == config.QueueMemory {
		logger.Fatalf("QUEUE_BACKEND=memory cannot be shared with the api process; use redis or rabbitmq")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutdown signal received")
		cancel()
	}()

	startCtx, cancelStart := context.WithTimeout(ctx, 5*time.Second)
	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	if err != nil {
		cancelStart()
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := journal.NewRepository(db.Client)
	err = repo.Migrate(startCtx)
	cancelStart()
	if err != nil {
		logger.Fatalf("journal migrate failed: %v", err)
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case config.QueueRabbitMQ:
		rq, err := queue.NewRabbitQueue(cfg.RabbitMQURL, cfg.RabbitMQQueue, logger)
		if err != nil {
			logger.Fatalf("rabbitmq: %v", err)
		}
		defer rq.Close()
		q = rq
	default:
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatalf("queue consume init failed: %v", err)
	}

	logger.Println("worker started, waiting for lifecycle events...")
	var recorded, failed int
	for msg := range messages {
		entry, err := repo.Record(ctx, msg)
		if err != nil {
			failed++
			logger.Printf("journal.record %s failed: %v", msg.Type, err)
			continue
		}
		recorded++
		logger.Printf("journal.record %s id=%s user=%s appointment=%d", entry.Type, entry.ID, entry.UserID, entry.AppointmentID)
	}

	logger.Printf("worker stopped recorded=%d failed=%d", recorded, failed)
}
