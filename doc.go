// Package wallet implements a distributed wallet-transfer engine on top
// of a single logical Redis instance.
//
// The engine moves monetary balance between user wallets in response to
// asynchronous transfer commands. Its correctness contract is the usual
// ledger one: every accepted transfer atomically debits the sender and
// credits the recipient by the same amount, no balance ever goes
// negative, and duplicated deliveries from an at-least-once bus never
// double-spend.
//
// # Architecture
//
//   - KV (kv.go): the capability boundary to Redis — SETNX leases,
//     server-side compare-and-delete, hash reads, and WATCH/MULTI/EXEC
//     optimistic transactions. Any backend with these six operations can
//     be substituted; tests run against miniredis.
//   - MultiLock (multilock.go): acquires leases on a sorted set of names
//     all-or-nothing, with token ownership, TTL crash safety, and
//     bounded exponential backoff. Sorting is the deadlock prevention.
//   - IdempotencyGuard (idempotency.go): applied:<op_id> outcome records
//     written inside the same EXEC as the balance updates.
//   - Service (transfer.go): the orchestrator. Validates the command,
//     takes the lock on {from, to}, and commits the paired debit/credit
//     in a watched transaction, mapping every outcome to a Result value.
//   - Consumer/Publisher (consumer.go, producer.go): Kafka glue for the
//     wallet.transfer.requested / wallet.transfer.completed topics.
//
// # Quick start
//
//	redisClient := redis.NewClient(wallet.RedisOptions())
//	kv := wallet.NewRedisKV(redisClient, logger, metrics)
//	svc, err := wallet.NewService(kv, wallet.DefaultConfig(), logger, metrics)
//	if err != nil {
//	    return err
//	}
//
//	res := svc.Transfer(ctx, wallet.TransferRequest{
//	    OpID:   wallet.NewID(),
//	    From:   "user_1",
//	    To:     "user_2",
//	    Amount: decimal.RequireFromString("30.00"),
//	})
//	if res.Applied() {
//	    // res.NewFromBalance, res.NewToBalance
//	}
//
// Balances are exact fixed-point decimals (shopspring/decimal) with a
// fixed scale; the engine never touches binary floating point.
package wallet
