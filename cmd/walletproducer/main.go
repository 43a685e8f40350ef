// walletproducer publishes random pre-validated transfer requests to
// Kafka, drawing senders and amounts from the seeded Redis data.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	wallet "github.com/moeinkolivand/redis-distributed-lock"
)

func main() {
	var (
		brokers = flag.String("brokers", envOr("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka broker list")
		count   = flag.Int("count", 7, "Number of transfer requests to publish")
	)
	flag.Parse()

	logger, err := wallet.NewDevelopmentZapLogger()
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	redisClient := redis.NewClient(wallet.RedisOptions())
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	publisher, err := wallet.NewPublisher(strings.Split(*brokers, ","), logger)
	if err != nil {
		logger.Error("failed to connect producer", "brokers", *brokers, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	harness := wallet.NewHarness(redisClient, publisher, logger)

	published, err := harness.GenerateAndPublish(ctx, *count)
	if err != nil {
		logger.Error("harness failed", "published", published, "error", err)
		os.Exit(1)
	}

	logger.Info("harness done", "requested", *count, "published", published)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
