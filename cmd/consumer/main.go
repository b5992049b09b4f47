package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/movimentoterra/internal/config"
	"example.com/movimentoterra/internal/consumer"
	"example.com/movimentoterra/internal/logging"
	httptransport "example.com/movimentoterra/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New("consumer", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	handler := consumer.NewEventLogHandler(pool)

	metricsCfg := httptransport.DefaultServerConfig(cfg.MetricsAddress)
	metricsSrv := httptransport.NewServer(metricsCfg, promhttp.Handler())
	go func() {
		if err := httptransport.Serve(ctx, metricsSrv, metricsCfg.ShutdownTimeout, logger.Named("metrics")); err != nil {
			logger.Warn("metrics server failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.KafkaBrokers,
			GroupID:        cfg.ConsumerGroupID,
			Topic:          topic,
			MinBytes:       1e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		})
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.With(zap.String("topic", topic))))

		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			defer reader.Close()
			logger.Info("consuming", zap.String("topic", topic), zap.String("group", cfg.ConsumerGroupID))
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("processor stopped", zap.String("topic", topic), zap.Error(err))
			}
		}(topic)
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("consumer stopped")
}
