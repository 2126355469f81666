package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/ndquoc/course-checkout/internal/adapter/handler"
	"github.com/ndquoc/course-checkout/internal/adapter/mq"
	"github.com/ndquoc/course-checkout/internal/adapter/storage"
	"github.com/ndquoc/course-checkout/internal/config"
	"github.com/ndquoc/course-checkout/internal/core/service"
	"github.com/ndquoc/course-checkout/internal/logging"
	"github.com/ndquoc/course-checkout/internal/metrics"
	"github.com/ndquoc/course-checkout/internal/obs"
)

func main() {
	log := logging.New("checkout-api")

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.JWTSecret == "" || cfg.BankWebhookToken == "" {
		log.Error("JWT_SECRET and BANK_WEBHOOK_TOKEN must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Register()

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := obs.InitTracer(ctx, "checkout-api", cfg.OTLPEndpoint)
		if err != nil {
			log.Error("init tracer", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			_ = shutdownTracer(flushCtx)
		}()
	}

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Error("open mysql", slog.Any("error", err))
		os.Exit(1)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Error("ping mysql", slog.Any("error", err))
		os.Exit(1)
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.Migrate(ctx); err != nil {
		log.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("ping redis", slog.Any("error", err))
		os.Exit(1)
	}
	redisAdapter := storage.NewRedisAdapter(rdb, cfg.CourseCacheTTL)
	log.Info("connected to redis")

	// RabbitMQ
	publisher, err := mq.NewPublisher(cfg.RabbitURL, cfg.PaymentExchange)
	if err != nil {
		log.Error("connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("connected to rabbitmq", slog.String("exchange", cfg.PaymentExchange))

	// Event dispatcher
	dispatcher := service.NewDispatcher(publisher, service.DispatcherConfig{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
	}, log)
	dispatcher.Start()

	// Services
	checkoutService := service.NewCheckoutService(mysqlAdapter, redisAdapter, log)
	settlementService := service.NewSettlementService(mysqlAdapter, redisAdapter, dispatcher, log)

	// HTTP
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, settlementService, log,
		cfg.EnableSimulatedWebhook, cfg.BankWebhookToken)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.NewRouter(checkoutHandler, cfg.JWTSecret),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", slog.Any("error", err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}

	// Drain pending notifications before closing the broker connection.
	dispatcher.Close()
	_ = publisher.Close()
	_ = rdb.Close()
	_ = db.Close()
	log.Info("stopped")
}
