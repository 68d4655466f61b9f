package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/segmentio/kafka-go"
)

// SettlementHandler applies an asynchronous gateway outcome to a payment.
type SettlementHandler interface {
	ApplySettlement(ctx context.Context, event models.SettlementEvent) error
}

type Consumer struct {
	reader  *kafka.Reader
	handler SettlementHandler
}

func NewConsumer(brokers []string, topic, groupID string, handler SettlementHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

// DecodeSettlement parses and validates a settlement message body.
func DecodeSettlement(value []byte) (models.SettlementEvent, error) {
	var event models.SettlementEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal settlement event: %w", err)
	}
	if event.PaymentID == uuid.Nil {
		return event, fmt.Errorf("settlement event without payment_id")
	}
	switch event.Status {
	case models.PaymentCompleted, models.PaymentFailed:
	default:
		return event, fmt.Errorf("settlement event with non-terminal status %q", event.Status)
	}
	return event, nil
}

// Consume blocks until ctx is cancelled. Malformed messages and settlements
// the handler rejects are logged and skipped.
func (c *Consumer) Consume(ctx context.Context) {
	topic := c.reader.Config().Topic
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				slog.Info("settlement consumer stopped", "topic", topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)

		event, err := DecodeSettlement(msg.Value)
		if err != nil {
			slog.Error("invalid settlement event", "offset", msg.Offset, "error", err)
			continue
		}

		if err := c.handler.ApplySettlement(ctx, event); err != nil {
			slog.Error("failed to apply settlement", "payment_id", event.PaymentID, "status", event.Status, "error", err)
			continue
		}
		slog.Info("settlement applied", "payment_id", event.PaymentID, "status", event.Status)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
