package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

var tracer = otel.Tracer("dispatch/ingest")

// readRetryDelay throttles the consume loop after a transport error so a
// broker outage does not spin the process.
const readRetryDelay = time.Second

// Dispatcher fans a domain event out to matching subscriptions.
type Dispatcher interface {
	TriggerEvent(ctx context.Context, eventType webhooks.EventType, entityID string, payload map[string]interface{}, ownerID string) (int, error)
}

// Message is the domain event envelope producers publish to the bus.
type Message struct {
	EventType webhooks.EventType     `json:"event_type"`
	EntityID  string                 `json:"entity_id"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Config holds the Kafka consumer group settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// messageReader is the slice of kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer bridges the domain event bus onto webhook fan-out: each bus
// message becomes one TriggerEvent call. Messages are consumed exactly
// once per group regardless of outcome; a malformed message or a failed
// fan-out is logged and counted, never redelivered.
type Consumer struct {
	reader     messageReader
	dispatcher Dispatcher
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewConsumer creates a consumer group reader for the domain event topic.
func NewConsumer(config Config, dispatcher Dispatcher, logger *observability.Logger, metrics *observability.Metrics) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		GroupID:  config.GroupID,
		Topic:    config.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run consumes until ctx is canceled, then closes the reader. It blocks.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	c.logger.Info("Ingest consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Ingest consumer stopped")
				return
			}
			c.logger.WithError(err).Error("Kafka read failed")
			time.Sleep(readRetryDelay)
			continue
		}

		c.handleMessage(ctx, msg)
	}
}

// handleMessage decodes one bus message and triggers fan-out. The message
// offset is already committed by the group reader, so failures here are
// terminal for the message: validation failures are producer bugs and
// redelivery would fail identically, and store failures surface in logs
// and metrics instead of blocking the partition.
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	ctx = extractTraceContext(ctx, msg)
	ctx, span := tracer.Start(ctx, "ingest.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	var message Message
	if err := json.Unmarshal(msg.Value, &message); err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("Skipping malformed bus message")
		c.metrics.IngestMessagesTotal.WithLabelValues("malformed").Inc()
		span.SetStatus(codes.Error, "malformed message")
		return
	}

	span.SetAttributes(attribute.String("event.type", string(message.EventType)))

	created, err := c.dispatcher.TriggerEvent(ctx, message.EventType, message.EntityID, message.Payload, message.OwnerID)
	if err != nil {
		span.RecordError(err)
		if webhooks.IsValidationError(err) {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"event_type": string(message.EventType),
				"entity_id":  message.EntityID,
			}).Warn("Skipping invalid bus message")
			c.metrics.IngestMessagesTotal.WithLabelValues("malformed").Inc()
			span.SetStatus(codes.Error, "invalid message")
			return
		}
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"event_type": string(message.EventType),
			"entity_id":  message.EntityID,
		}).Error("Fan-out failed for bus message")
		c.metrics.IngestMessagesTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, "fan-out failed")
		return
	}

	c.logger.WithFields(map[string]interface{}{
		"event_type": string(message.EventType),
		"entity_id":  message.EntityID,
		"deliveries": created,
	}).Debug("Bus message dispatched")
	c.metrics.IngestMessagesTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("deliveries.created", created))
	span.SetStatus(codes.Ok, "")
}
