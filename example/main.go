package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/overtonx/retrydlq"
)

// OrderCreated is the payload published by the example.
type OrderCreated struct {
	OrderID  string  `json:"order_id"`
	Customer string  `json:"customer"`
	Total    float64 `json:"total"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger, err := retrydlq.NewDefaultLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("Example failed", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", config.Database.DSN())
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	if err := retrydlq.CreateDeadLetterTable(ctx, db); err != nil {
		return err
	}
	logger.Info("Dead letter table ready")

	registry := prometheus.NewRegistry()
	metrics := retrydlq.NewPrometheusMetricsCollector(registry)
	opts := []retrydlq.Option{
		retrydlq.WithLogger(logger),
		retrydlq.WithMetrics(metrics),
		retrydlq.WithDeadLetterRetention(config.Cleanup.Retention),
		retrydlq.WithCleanupInterval(config.Cleanup.Interval),
	}

	repository := retrydlq.NewMySQLRepository(db)

	policy, err := retrydlq.NewRetryPolicy(config.Retry.MaxAttempts, config.Retry.RetryDelay, config.Retry.DLQEnabled)
	if err != nil {
		return err
	}

	kafkaConfig := retrydlq.DefaultKafkaConfig()
	kafkaConfig.Brokers = config.Kafka.Brokers
	kafkaConfig.Topic = config.Kafka.Topic
	kafkaHandler := retrydlq.NewKafkaHandlerWithConfig("kafka-events", kafkaConfig, logger)
	defer kafkaHandler.Close()

	events, err := retrydlq.NewService[retrydlq.KafkaMessage](kafkaHandler, policy, repository, opts...)
	if err != nil {
		return err
	}

	orders, err := retrydlq.NewService[OrderCreated](&retrydlq.FuncHandler[OrderCreated]{
		Name:  "order-created",
		Codec: retrydlq.JSONCodec[OrderCreated]{},
		ProcessFunc: func(ctx context.Context, order OrderCreated) error {
			value, err := retrydlq.JSONCodec[OrderCreated]{}.Serialize(order)
			if err != nil {
				return err
			}
			return kafkaHandler.Process(ctx, retrydlq.KafkaMessage{
				Key:     order.OrderID,
				Value:   []byte(value),
				Headers: map[string]string{"event_type": "order.created"},
			})
		},
	}, policy, repository, opts...)
	if err != nil {
		return err
	}

	services, err := retrydlq.NewServiceRegistry(events, orders)
	if err != nil {
		return err
	}
	orchestrator := retrydlq.NewDeadLetterOrchestrator(repository, services, opts...)

	cleanup := retrydlq.NewCleanupService(repository, config.Cleanup.BatchSize, opts...)
	worker := retrydlq.NewCleanupWorker(cleanup, opts...)
	go worker.Start(ctx)
	defer worker.Stop()

	server := &http.Server{
		Addr:              config.Metrics.Addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go publishOrders(ctx, orders, logger)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case <-ticker.C:
			replayDeadLetters(ctx, orchestrator, logger)
		}
	}
}

func publishOrders(ctx context.Context, orders *retrydlq.Service[OrderCreated], logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order := OrderCreated{
				OrderID:  fmt.Sprintf("order-%d", i),
				Customer: fmt.Sprintf("customer-%d", i%7),
				Total:    float64(i) * 9.99,
			}
			outcome := orders.ProcessWithRetry(ctx, order)
			logger.Info("Order published",
				zap.String("order_id", order.OrderID),
				zap.Stringer("outcome", outcome))
		}
	}
}

// replayDeadLetters retries every stored record of every registered service.
func replayDeadLetters(ctx context.Context, orchestrator *retrydlq.DeadLetterOrchestrator, logger *zap.Logger) {
	counts, err := orchestrator.CountByService(ctx)
	if err != nil {
		logger.Error("Failed to count dead letters", zap.Error(err))
		return
	}

	for _, count := range counts {
		logger.Info("Dead letters pending",
			zap.String("service", count.ServiceName),
			zap.Int64("count", count.Count))

		outcomes, err := orchestrator.RetryAll(ctx, count.ServiceName)
		if errors.Is(err, retrydlq.ErrRouteNotFound) {
			logger.Warn("No service registered for dead letters", zap.String("service", count.ServiceName))
			continue
		}
		if err != nil {
			logger.Error("Failed to replay dead letters", zap.String("service", count.ServiceName), zap.Error(err))
			continue
		}

		succeeded := 0
		for _, outcome := range outcomes {
			if outcome.IsSucceeded() {
				succeeded++
			}
		}
		logger.Info("Dead letters replayed",
			zap.String("service", count.ServiceName),
			zap.Int("succeeded", succeeded),
			zap.Int("total", len(outcomes)))
	}
}
