// walletworker consumes transfer commands from Kafka and applies them
// against Redis through the distributed transfer engine.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	wallet "github.com/moeinkolivand/redis-distributed-lock"
)

func main() {
	var (
		brokers     = flag.String("brokers", envOr("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka broker list")
		groupID     = flag.String("group", envOr("KAFKA_GROUP_ID", "wallet-workers"), "Kafka consumer group id")
		metricsAddr = flag.String("metrics-addr", ":9102", "Prometheus metrics listen address")
	)
	flag.Parse()

	logger, err := wallet.NewProductionZapLogger()
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	metrics := wallet.NewPrometheusMetrics(registry)

	redisClient := redis.NewClient(wallet.RedisOptions())
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	breaker := wallet.NewCircuitBreaker(5, 30*time.Second).
		WithStateChangeCallback(func(from, to string) {
			logger.Warn("redis circuit breaker state change", "from", from, "to", to)
		})
	kv := wallet.NewRedisKV(redisClient, logger, metrics).WithCircuitBreaker(breaker)

	svc, err := wallet.NewService(kv, wallet.DefaultConfig(), logger, metrics)
	if err != nil {
		logger.Error("failed to build transfer engine", "error", err)
		os.Exit(1)
	}

	brokerList := strings.Split(*brokers, ",")

	group, err := sarama.NewConsumerGroup(brokerList, *groupID, wallet.DefaultSaramaConfig())
	if err != nil {
		logger.Error("failed to join consumer group", "brokers", *brokers, "error", err)
		os.Exit(1)
	}
	defer group.Close()

	producer, err := sarama.NewSyncProducer(brokerList, wallet.DefaultSaramaConfig())
	if err != nil {
		logger.Error("failed to create producer", "brokers", *brokers, "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumer := wallet.NewConsumer(svc, logger, metrics).
		WithCompletedEvents(producer).
		WithProcessedCounter(wallet.NewCounter(redisClient, "transfers:processed", logger))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint failed", "addr", *metricsAddr, "error", err)
		}
	}()

	logger.Info("wallet worker started",
		"brokers", *brokers, "group", *groupID, "metrics_addr", *metricsAddr)

	if err := consumer.Run(ctx, group); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("wallet worker stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
