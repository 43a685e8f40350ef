package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"github.com/shopspring/decimal"
)

// Kafka topics used by the transfer pipeline
const (
	TopicTransferRequested = "wallet.transfer.requested"
	TopicTransferCompleted = "wallet.transfer.completed"
)

// Transfer completion statuses published on the completed topic
const (
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
)

// TransferRequested is the inbound bus message. Delivery is
// at-least-once; the idempotency key (falling back to the transfer id)
// makes duplicates harmless.
type TransferRequested struct {
	TransferID     string      `json:"transfer_id"`
	FromUser       string      `json:"from_user"`
	ToUser         string      `json:"to_user"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Request converts the bus message into an engine command
func (m TransferRequested) Request() (TransferRequest, error) {
	amount, err := decimal.NewFromString(m.Amount.String())
	if err != nil {
		return TransferRequest{}, WithContext(ErrInvalidAmount, map[string]interface{}{
			"transfer_id": m.TransferID,
			"amount":      m.Amount.String(),
		})
	}

	opID := m.IdempotencyKey
	if opID == "" {
		opID = m.TransferID
	}

	return TransferRequest{
		OpID:   opID,
		From:   m.FromUser,
		To:     m.ToUser,
		Amount: amount,
	}, nil
}

// TransferCompleted is the outbound bus message published after a
// command has been processed, whatever the outcome.
type TransferCompleted struct {
	TransferID  string  `json:"transfer_id"`
	Status      string  `json:"status"`
	Code        string  `json:"code"`
	Duplicate   bool    `json:"duplicate"`
	ProcessedAt float64 `json:"processed_at"`
	FromUser    string  `json:"from_user"`
	ToUser      string  `json:"to_user"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
}

// TransferService is the engine surface the consumer needs. Satisfied
// by *Service; tests substitute fakes.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) Result
}

// DefaultSaramaConfig returns the sarama configuration used by the
// worker binaries
func DefaultSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	return config
}

// Consumer processes transfer commands from the bus. It implements
// sarama.ConsumerGroupHandler: one handler instance is shared by all
// claims of the group session.
//
// Offset handling: transient outcomes (lock unavailable, concurrency
// conflict, store unavailable) are retried inline a bounded number of
// times, then the message is marked regardless — redelivery plus the
// idempotency guard makes that safe, and a poisoned command never
// blocks its partition.
type Consumer struct {
	service    TransferService
	producer   sarama.SyncProducer
	processed  *Counter
	logger     Logger
	metrics    Metrics
	maxRetries int
	retryDelay time.Duration
}

// NewConsumer creates a bus consumer around the transfer engine
func NewConsumer(service TransferService, logger Logger, metrics Metrics) *Consumer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	return &Consumer{
		service:    service,
		logger:     logger,
		metrics:    metrics,
		maxRetries: 3,
		retryDelay: 250 * time.Millisecond,
	}
}

// WithCompletedEvents publishes a TransferCompleted event for every
// processed command
func (c *Consumer) WithCompletedEvents(producer sarama.SyncProducer) *Consumer {
	c.producer = producer
	return c
}

// WithProcessedCounter tracks processed commands in a shared counter
func (c *Consumer) WithProcessedCounter(counter *Counter) *Consumer {
	c.processed = counter
	return c
}

// Setup is run at the beginning of a new session, before ConsumeClaim
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("consumer session started", "member_id", session.MemberID())
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim
// goroutines have exited
func (c *Consumer) Cleanup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("consumer session ended", "member_id", session.MemberID())
	return nil
}

// ConsumeClaim processes messages of a single partition claim
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.Handle(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

// Handle decodes and processes one bus message. Exported for tests and
// for non-group consumers.
func (c *Consumer) Handle(ctx context.Context, message *sarama.ConsumerMessage) {
	c.metrics.Increment(MetricConsumerMessages)

	var msg TransferRequested
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		c.metrics.Increment(MetricConsumerDecodeError)
		c.logger.Error("undecodable transfer command",
			"topic", message.Topic, "partition", message.Partition,
			"offset", message.Offset, "error", err)
		return
	}

	req, err := msg.Request()
	if err != nil {
		c.metrics.Increment(MetricConsumerDecodeError)
		c.logger.Error("invalid transfer command",
			"transfer_id", msg.TransferID, "error", err)
		c.publishCompleted(msg, resultFor(CodeInvalidAmount))
		return
	}

	res := c.processWithRetry(ctx, req)

	if c.processed != nil {
		if _, err := c.processed.Increment(ctx); err != nil {
			c.logger.Warn("processed counter increment failed", "error", err)
		}
	}

	c.publishCompleted(msg, res)
}

// processWithRetry retries transient results inline with the same op id
func (c *Consumer) processWithRetry(ctx context.Context, req TransferRequest) Result {
	res := c.service.Transfer(ctx, req)
	for attempt := 0; res.Code.Retryable() && attempt < c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		c.metrics.Increment(MetricConsumerRetries)
		c.logger.Warn("retrying transient transfer outcome",
			"op_id", req.OpID, "code", res.Code, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return res
		case <-time.After(c.retryDelay):
		}
		res = c.service.Transfer(ctx, req)
	}

	if !res.Applied() {
		c.logger.Warn("transfer rejected",
			"op_id", req.OpID, "from", req.From, "to", req.To, "code", res.Code)
	}
	return res
}

func (c *Consumer) publishCompleted(msg TransferRequested, res Result) {
	if c.producer == nil {
		return
	}

	status := TransferStatusFailed
	if res.Applied() {
		status = TransferStatusCompleted
	}

	event := TransferCompleted{
		TransferID:  msg.TransferID,
		Status:      status,
		Code:        string(res.Code),
		Duplicate:   res.Duplicate,
		ProcessedAt: float64(time.Now().UnixMilli()) / 1000.0,
		FromUser:    msg.FromUser,
		ToUser:      msg.ToUser,
		Amount:      msg.Amount.String(),
		Currency:    msg.Currency,
	}

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to encode completed event", "transfer_id", msg.TransferID, "error", err)
		return
	}

	_, _, err = c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: TopicTransferCompleted,
		Key:   sarama.StringEncoder(msg.FromUser),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		c.logger.Error("failed to publish completed event", "transfer_id", msg.TransferID, "error", err)
	}
}

// Run consumes the requested-transfers topic until ctx is cancelled.
// Consume returns on every rebalance, so it is called in a loop.
func (c *Consumer) Run(ctx context.Context, group sarama.ConsumerGroup) error {
	topics := []string{TopicTransferRequested}
	for {
		if err := group.Consume(ctx, topics, c); err != nil {
			c.logger.Error("consumer group error", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
