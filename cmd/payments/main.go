package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/payments/platform/internal/api"
	"github.com/payments/platform/internal/config"
	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/metrics"
	"github.com/payments/platform/internal/notification"
	"github.com/payments/platform/internal/reconciliation"
	"github.com/payments/platform/internal/rules"
	"github.com/payments/platform/internal/saga"
	"github.com/payments/platform/internal/settlement"
	"github.com/payments/platform/pkg/logger"
	"github.com/payments/platform/pkg/snowflake"
	"github.com/payments/platform/pkg/stream"
)

func main() {
	cfg := config.Load()
	log.Printf("Starting %s...", cfg.ServiceName)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	idGen, err := snowflake.New(cfg.WorkerID)
	if err != nil {
		log.Fatalf("Failed to init snowflake: %v", err)
	}

	appLog := logger.New(cfg.ServiceName, os.Stdout)

	// 连接数据库
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	dbPingCtx, dbPingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dbPingCancel()
	if err := db.PingContext(dbPingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to PostgreSQL")

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisPingCtx, redisPingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisPingCancel()
	if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Printf("Connected to Redis")

	m := metrics.NewDefault()
	topics := events.DefaultTopics(cfg.TopicPrefix)
	streamClient := stream.NewClient(redisClient)
	bus := events.NewBus(streamClient, topics)

	ledgerRepo := ledger.NewRepository(db)

	var provider settlement.Provider
	switch cfg.SettlementProviderMode {
	case "http":
		provider = settlement.NewHTTPProvider(cfg.SettlementProviderURL, 10*time.Second)
	default:
		provider = settlement.NewMockProvider(cfg.SettlementFailureRate)
	}
	processor := settlement.NewProcessor(provider, idGen, settlement.Config{
		MaxAttempts: cfg.SettlementMaxAttempts,
		RetryDelay:  cfg.SettlementRetryDelay,
	}, appLog)

	orchestrator := saga.New(ledgerRepo, rules.NewEngine(), processor, bus, topics, m, appLog)

	reconService := reconciliation.NewService(ledgerRepo, m, appLog, cfg.ReconciliationBatchSize)
	scheduler := reconciliation.NewScheduler(reconService, reconciliation.SchedulerConfig{
		DailyCron:   cfg.ReconciliationCron,
		HealthCron:  cfg.ReconciliationHealthCron,
		MaxAttempts: cfg.ReconciliationMaxAttempts,
		RetryDelay:  cfg.ReconciliationRetryDelay,
	}, appLog)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start reconciliation scheduler: %v", err)
	}
	defer scheduler.Stop()

	notifyStore := notification.NewRedisStore(redisClient, cfg.TopicPrefix+":notifications")
	notifyService := notification.NewService(notifyStore, notification.NewLogSender(appLog), topics, appLog)

	// saga 消费：PaymentInitiated + PaymentAuthorized，按 paymentId 串行
	sagaConsumer := stream.NewConsumer(streamClient, cfg.ConsumerGroup, cfg.ConsumerName,
		[]string{topics.Initiated, topics.Authorized}, orchestrator.HandleMessage, appLog, nil)
	go func() {
		if err := sagaConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("saga consumer stopped: %v", err)
			cancel()
		}
	}()

	// 通知投影消费：下游生命周期事件
	notifyConsumer := stream.NewConsumer(streamClient, cfg.ConsumerGroup+"-notify", cfg.ConsumerName,
		[]string{topics.Authorized, topics.Rejected, topics.Settled, topics.Failed},
		notifyService.HandleMessage, appLog, nil)
	go func() {
		if err := notifyConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("notification consumer stopped: %v", err)
			cancel()
		}
	}()

	// 管理面 HTTP
	server := api.NewServer(reconService, notifyService, ledgerRepo, bus, m.Handler(), appLog)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Router(),
	}
	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server stopped: %v", err)
			cancel()
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	log.Printf("%s stopped", cfg.ServiceName)
}
