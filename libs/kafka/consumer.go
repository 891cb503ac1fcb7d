package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	defaultMaxAttempts = 3
	defaultRetryTTL    = 10 * time.Minute
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{group: group, logger: logger, maxAttempts: defaultMaxAttempts}, nil
}

// WithDLQ routes messages that fail permanently, or more than the
// retry budget, to topic.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, defaultRetryTTL),
	}

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("kafka consumer group error", "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handler.HandleMessage(ExtractTrace(session.Context(), msg), msg)
		if err == nil {
			h.retryTracker.clear(msg)
			session.MarkMessage(msg, "")
			continue
		}

		h.logger.Error("kafka message handler error",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)

		var dlqErr *DLQError
		permanent := errors.As(err, &dlqErr)
		attempts := h.retryTracker.inc(msg)
		if !permanent && attempts < h.retryTracker.max {
			// Leave the offset unmarked; the message is redelivered after a rebalance or restart.
			continue
		}

		reason := "max_attempts"
		if permanent {
			reason = dlqErr.Reason
		}
		if h.dlqPublisher != nil && h.dlqTopic != "" {
			payload := BuildDLQPayload(msg, err, reason, attempts)
			if _, _, pubErr := h.dlqPublisher.PublishJSON(session.Context(), h.dlqTopic, string(msg.Key), payload); pubErr != nil {
				h.logger.Error("kafka dlq publish failed", "topic", h.dlqTopic, "error", pubErr)
				continue
			}
		}
		h.retryTracker.clear(msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

type retryEntry struct {
	attempts int
	seen     time.Time
}

// retryTracker counts failures per topic/partition/offset. Entries older
// than ttl are dropped on access.
type retryTracker struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]retryEntry
	now     func() time.Time
}

func newRetryTracker(max int, ttl time.Duration) *retryTracker {
	if max <= 0 {
		max = 1
	}
	return &retryTracker{max: max, ttl: ttl, entries: make(map[string]retryEntry), now: time.Now}
}

func retryKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func (r *retryTracker) inc(msg *sarama.ConsumerMessage) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, e := range r.entries {
		if now.Sub(e.seen) > r.ttl {
			delete(r.entries, k)
		}
	}
	key := retryKey(msg)
	e := r.entries[key]
	e.attempts++
	e.seen = now
	r.entries[key] = e
	return e.attempts
}

func (r *retryTracker) clear(msg *sarama.ConsumerMessage) {
	r.mu.Lock()
	delete(r.entries, retryKey(msg))
	r.mu.Unlock()
}
