package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKV(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisKV) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return mr, client, NewRedisKV(client, nil, nil)
}

func TestRedisKV_SetIfAbsent(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	ok, err := kv.SetIfAbsent(ctx, "k", "v1", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent failed: %v", err)
	}
	if !ok {
		t.Error("first SetIfAbsent should succeed")
	}

	ok, err = kv.SetIfAbsent(ctx, "k", "v2", time.Minute)
	if err != nil {
		t.Fatalf("second SetIfAbsent failed: %v", err)
	}
	if ok {
		t.Error("second SetIfAbsent should report the key as taken")
	}

	if got, _ := mr.Get("k"); got != "v1" {
		t.Errorf("value = %q, want %q (losing write must not overwrite)", got, "v1")
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}
}

func TestRedisKV_Get(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	_, found, err := kv.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get on missing key should not error: %v", err)
	}
	if found {
		t.Error("missing key reported as found")
	}

	mr.Set("k", "v")
	value, found, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || value != "v" {
		t.Errorf("Get = (%q, %v), want (%q, true)", value, found, "v")
	}
}

func TestRedisKV_DeleteIfEqual(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	mr.Set("k", "owner-a")

	deleted, err := kv.DeleteIfEqual(ctx, "k", "owner-b")
	if err != nil {
		t.Fatalf("DeleteIfEqual failed: %v", err)
	}
	if deleted {
		t.Error("delete with the wrong value should be a no-op")
	}
	if !mr.Exists("k") {
		t.Error("key should survive a mismatched delete")
	}

	deleted, err = kv.DeleteIfEqual(ctx, "k", "owner-a")
	if err != nil {
		t.Fatalf("DeleteIfEqual failed: %v", err)
	}
	if !deleted {
		t.Error("delete with the matching value should succeed")
	}
	if mr.Exists("k") {
		t.Error("key should be gone after a matched delete")
	}

	deleted, err = kv.DeleteIfEqual(ctx, "k", "owner-a")
	if err != nil {
		t.Fatalf("DeleteIfEqual on missing key failed: %v", err)
	}
	if deleted {
		t.Error("delete on a missing key should report false")
	}
}

func TestRedisKV_HGetMulti(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	mr.HSet("h", "balance", "100.00")
	mr.HSet("h", "status", "active")

	fields, err := kv.HGetMulti(ctx, "h", "balance", "status", "nope")
	if err != nil {
		t.Fatalf("HGetMulti failed: %v", err)
	}
	if fields["balance"] != "100.00" || fields["status"] != "active" {
		t.Errorf("unexpected fields: %+v", fields)
	}
	if _, ok := fields["nope"]; ok {
		t.Error("absent field should be dropped, not returned empty")
	}

	fields, err = kv.HGetMulti(ctx, "missing", "balance")
	if err != nil {
		t.Fatalf("HGetMulti on missing key failed: %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("missing hash should yield no fields, got %+v", fields)
	}
}

func TestRedisKV_WatchedTx_Commit(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	mr.HSet("wallet:a", "balance", "50.00")

	committed, err := kv.WatchedTx(ctx, []string{"wallet:a", "applied:op1"}, func(tx Tx) error {
		fields, err := tx.HGetMulti("wallet:a", "balance")
		if err != nil {
			return err
		}
		if fields["balance"] != "50.00" {
			t.Errorf("tx read balance = %q, want 50.00", fields["balance"])
		}

		tx.HSet("wallet:a", "balance", "40.00")
		tx.Set("applied:op1", `{"code":"APPLIED"}`, time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("WatchedTx failed: %v", err)
	}
	if !committed {
		t.Fatal("uncontended transaction should commit")
	}

	if got := mr.HGet("wallet:a", "balance"); got != "40.00" {
		t.Errorf("balance = %q, want 40.00", got)
	}
	if got, _ := mr.Get("applied:op1"); got != `{"code":"APPLIED"}` {
		t.Errorf("applied record = %q", got)
	}
	if ttl := mr.TTL("applied:op1"); ttl != time.Hour {
		t.Errorf("applied record TTL = %v, want %v", ttl, time.Hour)
	}
}

func TestRedisKV_WatchedTx_AbortsOnConcurrentWrite(t *testing.T) {
	mr, client, kv := newTestKV(t)
	ctx := context.Background()

	mr.HSet("wallet:a", "balance", "50.00")

	committed, err := kv.WatchedTx(ctx, []string{"wallet:a"}, func(tx Tx) error {
		if _, err := tx.HGetMulti("wallet:a", "balance"); err != nil {
			return err
		}

		// Another connection mutates the watched key between read and
		// commit. EXEC must fail.
		if err := client.HSet(ctx, "wallet:a", "balance", "999.00").Err(); err != nil {
			return err
		}

		tx.HSet("wallet:a", "balance", "40.00")
		return nil
	})
	if err != nil {
		t.Fatalf("WatchedTx returned error on optimistic abort: %v", err)
	}
	if committed {
		t.Fatal("transaction should abort when a watched key changes")
	}

	if got := mr.HGet("wallet:a", "balance"); got != "999.00" {
		t.Errorf("balance = %q, the aborted write must not apply", got)
	}
}

func TestRedisKV_WatchedTx_BodyErrorWritesNothing(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	bodyErr := errors.New("domain rejection")

	committed, err := kv.WatchedTx(ctx, []string{"wallet:a"}, func(tx Tx) error {
		tx.HSet("wallet:a", "balance", "40.00")
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("expected body error back, got %v", err)
	}
	if committed {
		t.Error("errored body must not commit")
	}
	if mr.Exists("wallet:a") {
		t.Error("queued writes of an errored body must not apply")
	}
}

func TestRedisKV_WatchedTx_TxGet(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	mr.Set("applied:op1", "record")

	_, err := kv.WatchedTx(ctx, []string{"applied:op1"}, func(tx Tx) error {
		value, found, err := tx.Get("applied:op1")
		if err != nil {
			return err
		}
		if !found || value != "record" {
			t.Errorf("tx Get = (%q, %v), want (record, true)", value, found)
		}

		_, found, err = tx.Get("applied:op2")
		if err != nil {
			return err
		}
		if found {
			t.Error("missing key reported as found inside tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WatchedTx failed: %v", err)
	}
}

func TestRedisKV_CircuitBreakerFailsFast(t *testing.T) {
	mr, _, kv := newTestKV(t)
	ctx := context.Background()

	breaker := NewCircuitBreaker(2, time.Minute)
	kv.WithCircuitBreaker(breaker)

	// Kill the backend: every round trip now fails.
	mr.Close()

	for i := 0; i < 2; i++ {
		if _, _, err := kv.Get(ctx, "k"); err == nil {
			t.Fatal("expected error against a dead backend")
		}
	}
	if breaker.State() != "open" {
		t.Fatalf("breaker state = %q, want open", breaker.State())
	}

	_, _, err := kv.Get(ctx, "k")
	if !errors.Is(err, ErrKVUnavailable) {
		t.Errorf("open breaker should fail fast with ErrKVUnavailable, got %v", err)
	}
}

func TestRedisKV_WatchedTxDoesNotTripBreaker(t *testing.T) {
	_, _, kv := newTestKV(t)
	ctx := context.Background()

	breaker := NewCircuitBreaker(1, time.Minute)
	kv.WithCircuitBreaker(breaker)

	// A domain rejection travels through WatchedTx as an error. It must
	// not count as a backend failure.
	_, err := kv.WatchedTx(ctx, []string{"wallet:a"}, func(tx Tx) error {
		return ErrInsufficientFunds
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("unexpected error: %v", err)
	}

	if breaker.State() != "closed" {
		t.Errorf("breaker state = %q, domain errors must not open it", breaker.State())
	}
}

func TestWrapKVError(t *testing.T) {
	cause := errors.New("connection refused")

	err := wrapKVError("get", "k", cause)
	if !errors.Is(err, ErrKVUnavailable) {
		t.Error("wrapped error should match ErrKVUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should keep the original cause")
	}

	// Re-wrapping an already classified error must not stack prefixes.
	again := wrapKVError("set_if_absent", "k", err)
	if again != err {
		t.Errorf("double wrap: got %v", again)
	}
}

func TestHashFields(t *testing.T) {
	fields := hashFields(
		[]string{"a", "b", "c"},
		[]interface{}{"1", nil, "3"},
	)

	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d: %+v", len(fields), fields)
	}
	if fields["a"] != "1" || fields["c"] != "3" {
		t.Errorf("unexpected fields: %+v", fields)
	}
	if _, ok := fields["b"]; ok {
		t.Error("nil value should be dropped")
	}
}
