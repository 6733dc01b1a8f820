package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"tutorflow/internal/cloudinary"
	"tutorflow/internal/config"
	"tutorflow/internal/gateway"
	"tutorflow/internal/journal"
	"tutorflow/internal/lifecycle"
	"tutorflow/internal/queue"
	"tutorflow/internal/store"
	"tutorflow/internal/tutorapi"
)

func main() {
	logger := log.New(os.Stdout, "[tutorflow-api] ", log.LstdFlags|log.Lmicroseconds)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("warning: .env not loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *log.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("warning: db not reachable, activity journal disabled: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	redisUp := redisClient.Healthy(startCtx)

	q, closeQueue, err := openQueue(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	var keys lifecycle.KeyStore = lifecycle.NewMemoryKeys()
	if redisUp {
		keys = store.NewKeyLedger(redisClient.Client, "", cfg.IdempotencyTTL)
	} else {
		logger.Printf("warning: redis not reachable, idempotency keys kept in memory")
	}

	backend := tutorapi.New(cfg.BackendURL, cfg.BackendTimeout, logger)
	deps := gateway.Deps{
		Backend:   backend,
		Catalog:   tutorapi.NewCachedCatalog(backend, cfg.CatalogCacheSize, cfg.CatalogCacheTTL),
		Keys:      keys,
		Publisher: q,
		Logger:    logger,
		Health: map[string]gateway.HealthCheck{
			"redis": redisClient.Healthy,
			"db":    db.Healthy,
		},
	}

	if cfg.CloudinaryEnabled() {
		deps.Photos = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Println("cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		logger.Println("cloudinary not configured, photo uploads disabled")
	}

	var repo *journal.Repository
	if db.Healthy(startCtx) {
		repo = journal.NewRepository(db.Client)
		if merr := repo.Migrate(startCtx); merr != nil {
			logger.Printf("warning: journal migrate failed: %v", merr)
			repo = nil
		} else {
			deps.Activity = repo
		}
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if cfg.QueueBackend == config.QueueMemory {
		// No worker can reach an in-process queue, so drain it here.
		go drainInProcess(runCtx, q, repo, logger)
	}

	devTTL := cfg.DevTokenTTL
	if cfg.IsProduction() {
		devTTL = 0
	}
	gw := gateway.New(gateway.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		SessionIdleTTL:  cfg.SessionIdleTTL,
		CORSOrigins:     cfg.CORSOrigins,
		DevTokenTTL:     devTTL,
	}, deps)
	stopSweeper := gw.StartSweeper()
	defer stopSweeper()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      gw.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("starting server on :%s (backend %s, queue %s)", cfg.HTTPPort, cfg.BackendURL, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Println("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server forced shutdown: %v", err)
	}
	// In-flight confirmations that land after this are discarded.
	gw.Sessions().CloseAll()

	logger.Println("server exited")
	return nil
}

func openQueue(cfg config.App, redisClient *store.Redis, logger *log.Logger) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		return queue.NewInMemory(64), func() {}, nil
	case config.QueueRabbitMQ:
		rq, err := queue.NewRabbitQueue(cfg.RabbitMQURL, cfg.RabbitMQQueue, logger)
		if err != nil {
			return nil, nil, err
		}
		return rq, func() { _ = rq.Close() }, nil
	default:
		return queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger), func() {}, nil
	}
}

func drainInProcess(ctx context.Context, q queue.Queue, repo *journal.Repository, logger *log.Logger) {
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Printf("queue.drain not started: %v", err)
		return
	}
	for msg := range messages {
		if repo == nil {
			logger.Printf("queue.drain %s dropped, journal disabled", msg.Type)
			continue
		}
		if _, err := repo.Record(ctx, msg); err != nil {
			logger.Printf("journal.record %s failed: %v", msg.Type, err)
		}
	}
}
