// walletseed loads idempotent test users and wallets into Redis.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	wallet "github.com/moeinkolivand/redis-distributed-lock"
)

func main() {
	var (
		count = flag.Int("count", 10, "Number of users/wallets to seed")
		clear = flag.Bool("clear", false, "Clear existing seed data first")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	seeder := wallet.NewSeeder(redisClient, logger)

	if *clear {
		removed, err := seeder.Clear(ctx)
		if err != nil {
			logger.Error("failed to clear seed data", "error", err)
			os.Exit(1)
		}
		logger.Info("cleared existing seed data", "keys", removed)
	}

	created, err := seeder.Seed(ctx, *count)
	if err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	logger.Info("seeding done", "requested", *count, "created", created)
}
