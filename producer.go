package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/Shopify/sarama"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Publisher sends transfer commands to the bus
type Publisher struct {
	producer sarama.SyncProducer
	logger   Logger
}

// NewPublisher connects a synchronous producer to the given brokers
func NewPublisher(brokers []string, logger Logger) (*Publisher, error) {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	producer, err := sarama.NewSyncProducer(brokers, DefaultSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}

	return &Publisher{
		producer: producer,
		logger:   logger,
	}, nil
}

// NewPublisherFromProducer wraps an existing producer (used by tests)
func NewPublisherFromProducer(producer sarama.SyncProducer, logger Logger) *Publisher {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Publisher{producer: producer, logger: logger}
}

// Publish sends one transfer request, keyed by sender so commands for
// the same debtor land on the same partition in order
func (p *Publisher) Publish(msg TransferRequested) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode transfer request: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: TopicTransferRequested,
		Key:   sarama.StringEncoder(msg.FromUser),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}

	p.logger.Info("published transfer request",
		"transfer_id", msg.TransferID,
		"from", msg.FromUser,
		"to", msg.ToUser,
		"amount", msg.Amount.String(),
		"partition", partition,
		"offset", offset)
	return nil
}

// Close shuts the underlying producer down
func (p *Publisher) Close() error {
	return p.producer.Close()
}

var harnessCurrencies = []string{"USD", "EUR", "GBP"}

// Harness generates pre-validated random transfer requests from seeded
// data and publishes them. It is a load driver, not part of the engine;
// its balance checks are advisory (the engine revalidates under lock).
type Harness struct {
	redis     *redis.Client
	publisher *Publisher
	logger    Logger
}

// NewHarness creates a request-producer harness
func NewHarness(redis *redis.Client, publisher *Publisher, logger Logger) *Harness {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &Harness{
		redis:     redis,
		publisher: publisher,
		logger:    logger,
	}
}

// GenerateAndPublish publishes count random transfers between seeded
// users that currently have funds. Returns the number published.
func (h *Harness) GenerateAndPublish(ctx context.Context, count int) (int, error) {
	userIDs, err := h.redis.SMembers(ctx, usersSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}
	if len(userIDs) < 2 {
		return 0, WithContext(ErrInvalidRequest, map[string]interface{}{
			"reason": "need at least 2 seeded users",
			"users":  len(userIDs),
		})
	}

	published := 0
	attempts := 0
	maxAttempts := count * 5

	for published < count && attempts < maxAttempts {
		attempts++

		from := userIDs[rand.Intn(len(userIDs))]
		to := from
		for to == from {
			to = userIDs[rand.Intn(len(userIDs))]
		}

		amount, ok, err := h.pickAmount(ctx, from)
		if err != nil {
			return published, err
		}
		if !ok {
			h.logger.Debug("sender has no usable balance, skipping", "user", from)
			continue
		}

		transferID := NewID()
		msg := TransferRequested{
			TransferID:     transferID,
			FromUser:       from,
			ToUser:         to,
			Amount:         json.Number(amount.StringFixed(2)),
			Currency:       harnessCurrencies[rand.Intn(len(harnessCurrencies))],
			IdempotencyKey: transferID,
		}

		if err := h.publisher.Publish(msg); err != nil {
			return published, err
		}
		published++
	}

	h.logger.Info("harness run finished", "requested", count, "published", published)
	return published, nil
}

// pickAmount draws a random two-decimal amount between 20.00 and 80% of
// the sender's current balance
func (h *Harness) pickAmount(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	raw, err := h.redis.HGet(ctx, walletKey(userID), fieldBalance).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read balance for %q: %w", userID, err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt balance for %q: %w", userID, err)
	}

	maxCents := balance.Mul(decimal.NewFromFloat(0.8)).Shift(2).IntPart()
	const minCents = 2000 // 20.00
	if maxCents <= minCents {
		return decimal.Zero, false, nil
	}

	cents := minCents + rand.Int63n(maxCents-minCents)
	return decimal.New(cents, -2), true, nil
}
