// Package kafka consumes progression actions from the action topic.
// Delivery from Kafka is at-least-once; actions carry idempotency keys,
// so the orchestrator makes application at-most-once.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/domain"
)

// ActionApplier applies one progression action.
type ActionApplier interface {
	ApplyAction(ctx context.Context, action *domain.Action) (*domain.ProgressionResult, error)
}

// Consumer consumes action messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	applier       ActionApplier
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, applier ActionApplier, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		applier:       applier,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Actions for
// the same user share a partition key, so per-partition ordering gives
// per-user ordering.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var action domain.Action
			if err := json.Unmarshal(message.Value, &action); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if action.UserID == "" || action.Kind == "" {
				h.consumer.logger.Warn("invalid action message",
					"user_id", action.UserID,
					"action_kind", string(action.Kind),
				)
				session.MarkMessage(message, "")
				continue
			}

			h.processAction(&action, message)
			session.MarkMessage(message, "")
		}
	}
}

// processAction applies the action with retries for transient faults.
// Malformed actions are dropped after logging; retrying them would
// never succeed.
func (h *consumerGroupHandler) processAction(action *domain.Action, message *sarama.ConsumerMessage) {
	cfg := h.consumer.config
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := h.consumer.applier.ApplyAction(ctx, action)
		cancel()

		if err == nil {
			return
		}
		if domain.IsClientError(err) || domain.IsNotFoundError(err) {
			h.consumer.logger.Warn("dropping unprocessable action",
				"error", err,
				"user_id", action.UserID,
				"action_kind", string(action.Kind),
				"offset", message.Offset,
			)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		h.consumer.logger.Error("failed to apply action",
			"error", err,
			"user_id", action.UserID,
			"action_kind", string(action.Kind),
			"attempt", attempt,
		)
		if attempt < attempts {
			time.Sleep(cfg.RetryDelay)
		}
	}
}
