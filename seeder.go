package wallet

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Key layout used by the seeder, shared with the producer harness
const (
	userKeyPrefix = "user:"
	usersSetKey   = "users:all"
	walletsSetKey = "wallets:all"
)

func userKey(userID string) string {
	return userKeyPrefix + userID
}

// SeedUser is a user record written by the seeder. The engine itself
// only ever reads wallets; user records exist for the harness.
type SeedUser struct {
	UserID    string
	FullName  string
	Email     string
	CreatedAt string
	Status    string
}

// Seeder loads test users and wallets into Redis. It is idempotent:
// existing keys are never overwritten, so reseeding a populated store
// is a no-op.
type Seeder struct {
	redis  *redis.Client
	logger Logger
}

// NewSeeder creates a seed-data loader
func NewSeeder(redis *redis.Client, logger Logger) *Seeder {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &Seeder{
		redis:  redis,
		logger: logger,
	}
}

var (
	seedFirstNames = []string{"John", "Jane", "Michael", "Sarah", "David", "Emma", "James", "Emily", "Robert", "Lisa"}
	seedLastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez"}
)

// GenerateUsers produces count deterministic-id users with random names
func GenerateUsers(count int) []SeedUser {
	now := time.Now().UTC().Format(time.RFC3339)
	users := make([]SeedUser, 0, count)
	for i := 1; i <= count; i++ {
		users = append(users, SeedUser{
			UserID:    fmt.Sprintf("user_%d", i),
			FullName:  seedFirstNames[rand.Intn(len(seedFirstNames))] + " " + seedLastNames[rand.Intn(len(seedLastNames))],
			Email:     fmt.Sprintf("user%d@example.com", i),
			CreatedAt: now,
			Status:    WalletStatusActive,
		})
	}
	return users
}

// RandomBalance returns a two-decimal balance in [100.00, 10000.00)
func RandomBalance() decimal.Decimal {
	cents := 10000 + rand.Int63n(990000)
	return decimal.New(cents, -2)
}

// SeedUsers writes user hashes that do not already exist.
// Returns the number created.
func (s *Seeder) SeedUsers(ctx context.Context, users []SeedUser) (int, error) {
	created := 0
	for _, user := range users {
		key := userKey(user.UserID)

		exists, err := s.redis.Exists(ctx, key).Result()
		if err != nil {
			return created, fmt.Errorf("failed to check user %q: %w", user.UserID, err)
		}
		if exists > 0 {
			s.logger.Debug("user already seeded", "user", user.UserID)
			continue
		}

		if err := s.redis.HSet(ctx, key, map[string]interface{}{
			"user_id":    user.UserID,
			"full_name":  user.FullName,
			"email":      user.Email,
			"created_at": user.CreatedAt,
			"status":     user.Status,
		}).Err(); err != nil {
			return created, fmt.Errorf("failed to seed user %q: %w", user.UserID, err)
		}
		if err := s.redis.SAdd(ctx, usersSetKey, user.UserID).Err(); err != nil {
			return created, fmt.Errorf("failed to index user %q: %w", user.UserID, err)
		}
		created++
	}

	s.logger.Info("seeded users", "requested", len(users), "created", created)
	return created, nil
}

// SeedWallets writes an active wallet per user with the given balance
// picker, skipping wallets that already exist. Returns the number
// created.
func (s *Seeder) SeedWallets(ctx context.Context, users []SeedUser, balance func() decimal.Decimal) (int, error) {
	if balance == nil {
		balance = RandomBalance
	}

	now := time.Now().UTC().Format(time.RFC3339)
	created := 0
	for _, user := range users {
		key := walletKey(user.UserID)

		exists, err := s.redis.Exists(ctx, key).Result()
		if err != nil {
			return created, fmt.Errorf("failed to check wallet %q: %w", user.UserID, err)
		}
		if exists > 0 {
			s.logger.Debug("wallet already seeded", "user", user.UserID)
			continue
		}

		if err := s.redis.HSet(ctx, key, map[string]interface{}{
			fieldWalletID: "wallet_" + user.UserID,
			fieldUserID:   user.UserID,
			fieldBalance:  balance().StringFixed(2),
			fieldCurrency: DefaultCurrency,
			"created_at":  now,
			fieldStatus:   WalletStatusActive,
		}).Err(); err != nil {
			return created, fmt.Errorf("failed to seed wallet %q: %w", user.UserID, err)
		}
		if err := s.redis.SAdd(ctx, walletsSetKey, "wallet_"+user.UserID).Err(); err != nil {
			return created, fmt.Errorf("failed to index wallet %q: %w", user.UserID, err)
		}
		created++
	}

	s.logger.Info("seeded wallets", "requested", len(users), "created", created)
	return created, nil
}

// Seed generates count users and loads them plus wallets with random
// balances
func (s *Seeder) Seed(ctx context.Context, count int) (int, error) {
	users := GenerateUsers(count)
	if _, err := s.SeedUsers(ctx, users); err != nil {
		return 0, err
	}
	return s.SeedWallets(ctx, users, nil)
}

// UserIDs returns all seeded user ids
func (s *Seeder) UserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, usersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

// Clear deletes all seeded test data (users, wallets, index sets)
func (s *Seeder) Clear(ctx context.Context) (int, error) {
	patterns := []string{userKeyPrefix + "*", walletKeyPrefix + "*", usersSetKey, walletsSetKey}

	var keys []string
	for _, pattern := range patterns {
		var cursor uint64
		for {
			batch, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return 0, fmt.Errorf("failed to scan %q: %w", pattern, err)
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}

	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear seed data: %w", err)
	}

	s.logger.Info("cleared seed data", "keys", len(keys))
	return len(keys), nil
}
