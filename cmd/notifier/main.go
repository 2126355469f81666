package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ndquoc/course-checkout/internal/adapter/mq"
	"github.com/ndquoc/course-checkout/internal/config"
	"github.com/ndquoc/course-checkout/internal/logging"
	"github.com/ndquoc/course-checkout/internal/notifier"
)

func main() {
	log := logging.New("checkout-notifier")

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	var consumer *mq.Consumer
	for {
		consumer, err = mq.NewConsumer(cfg.RabbitURL, cfg.PaymentExchange, cfg.NotifyQueue, []string{"payment.*"})
		if err == nil {
			break
		}
		log.Warn("rabbitmq connect failed, retrying", slog.Any("error", err))
		time.Sleep(2 * time.Second)
	}
	defer consumer.Close()

	n := notifier.NewConsole(log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	log.Info("notifier started", slog.String("queue", cfg.NotifyQueue))

	err = consumer.Run(ctx, func(_ context.Context, key string, body []byte) error {
		subject, message, err := notifier.RenderSettlement(body)
		if err != nil {
			// Malformed payloads are logged and acked, requeueing cannot fix them.
			log.Error("bad event payload", slog.String("key", key), slog.Any("error", err))
			return nil
		}
		return n.Notify(subject, message)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("stopped")
}
