package wallet

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestSeeder(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Seeder) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return mr, client, NewSeeder(client, nil)
}

func TestGenerateUsers(t *testing.T) {
	users := GenerateUsers(5)

	if len(users) != 5 {
		t.Fatalf("generated %d users, want 5", len(users))
	}
	for i, user := range users {
		if user.UserID == "" || user.FullName == "" || user.Email == "" {
			t.Errorf("user %d has empty fields: %+v", i, user)
		}
		if user.Status != WalletStatusActive {
			t.Errorf("user %d status = %q, want active", i, user.Status)
		}
	}
	if users[0].UserID != "user_1" || users[4].UserID != "user_5" {
		t.Errorf("user ids should be sequential, got %q .. %q", users[0].UserID, users[4].UserID)
	}
}

func TestRandomBalance(t *testing.T) {
	min := decimal.RequireFromString("100.00")
	max := decimal.RequireFromString("10000.00")

	for i := 0; i < 100; i++ {
		balance := RandomBalance()
		if balance.LessThan(min) || balance.GreaterThanOrEqual(max) {
			t.Fatalf("balance %v outside [100.00, 10000.00)", balance)
		}
		if balance.Exponent() < -2 {
			t.Fatalf("balance %v finer than two decimals", balance)
		}
	}
}

func TestSeeder_Seed(t *testing.T) {
	mr, _, seeder := newTestSeeder(t)
	ctx := context.Background()

	created, err := seeder.Seed(ctx, 3)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}

	for _, id := range []string{"user_1", "user_2", "user_3"} {
		if !mr.Exists(userKey(id)) {
			t.Errorf("user hash %s missing", userKey(id))
		}
		if !mr.Exists(walletKey(id)) {
			t.Errorf("wallet hash %s missing", walletKey(id))
		}

		if got := mr.HGet(walletKey(id), fieldStatus); got != WalletStatusActive {
			t.Errorf("wallet %s status = %q, want active", id, got)
		}
		if got := mr.HGet(walletKey(id), fieldCurrency); got != DefaultCurrency {
			t.Errorf("wallet %s currency = %q", id, got)
		}
		balance, err := decimal.NewFromString(mr.HGet(walletKey(id), fieldBalance))
		if err != nil {
			t.Errorf("wallet %s balance unparseable: %v", id, err)
		} else if !balance.IsPositive() {
			t.Errorf("wallet %s balance = %v, want positive", id, balance)
		}
	}

	members, err := mr.SMembers(usersSetKey)
	if err != nil || len(members) != 3 {
		t.Errorf("users index = %v (err %v), want 3 members", members, err)
	}
	wallets, err := mr.SMembers(walletsSetKey)
	if err != nil || len(wallets) != 3 {
		t.Errorf("wallets index = %v (err %v), want 3 members", wallets, err)
	}
}

func TestSeeder_SeedIsIdempotent(t *testing.T) {
	mr, _, seeder := newTestSeeder(t)
	ctx := context.Background()

	if _, err := seeder.Seed(ctx, 3); err != nil {
		t.Fatalf("first Seed failed: %v", err)
	}
	originalBalance := mr.HGet(walletKey("user_1"), fieldBalance)

	created, err := seeder.Seed(ctx, 3)
	if err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	if created != 0 {
		t.Errorf("reseed created %d wallets, want 0", created)
	}
	if got := mr.HGet(walletKey("user_1"), fieldBalance); got != originalBalance {
		t.Errorf("reseed changed a balance: %q -> %q", originalBalance, got)
	}
}

func TestSeeder_SeedWalletsWithFixedBalance(t *testing.T) {
	mr, _, seeder := newTestSeeder(t)
	ctx := context.Background()

	users := GenerateUsers(2)
	created, err := seeder.SeedWallets(ctx, users, func() decimal.Decimal {
		return decimal.RequireFromString("42.00")
	})
	if err != nil {
		t.Fatalf("SeedWallets failed: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	if got := mr.HGet(walletKey("user_1"), fieldBalance); got != "42.00" {
		t.Errorf("balance = %q, want 42.00", got)
	}
}

func TestSeeder_UserIDs(t *testing.T) {
	_, _, seeder := newTestSeeder(t)
	ctx := context.Background()

	if _, err := seeder.Seed(ctx, 4); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	ids, err := seeder.UserIDs(ctx)
	if err != nil {
		t.Fatalf("UserIDs failed: %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("got %d user ids, want 4", len(ids))
	}
}

func TestSeeder_Clear(t *testing.T) {
	mr, client, seeder := newTestSeeder(t)
	ctx := context.Background()

	if _, err := seeder.Seed(ctx, 3); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	// Unrelated keys must survive a clear.
	if err := client.Set(ctx, "applied:op-1", "keep", 0).Err(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	removed, err := seeder.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed == 0 {
		t.Error("Clear removed nothing")
	}

	for _, key := range mr.Keys() {
		if key != "applied:op-1" {
			t.Errorf("leftover seed key: %s", key)
		}
	}
	if !mr.Exists("applied:op-1") {
		t.Error("Clear must not touch non-seed keys")
	}

	removed, err = seeder.Clear(ctx)
	if err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second Clear removed %d keys, want 0", removed)
	}
}
