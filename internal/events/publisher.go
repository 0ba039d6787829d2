// Package events provides post-commit event publishing for the engine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/peerdax/exchange/pkg/logger"
)

// Event types emitted by the engine.
const (
	TypeTradeExecuted  = "trade_executed"
	TypeOrderCancelled = "order_cancelled"
)

// Topic carries all engine lifecycle events.
const Topic = "engine.events"

// Event is the envelope delivered to every sink.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers an event to one destination.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// Emitter fans an event out to all configured publishers. Delivery is
// best-effort and happens only after the originating transaction committed;
// failures are logged, never propagated back into the trade path.
type Emitter struct {
	publishers []Publisher
	log        logger.Logger
}

// NewEmitter creates an emitter over the given publishers. An emitter with no
// publishers is valid and drops events.
func NewEmitter(publishers []Publisher, log logger.Logger) *Emitter {
	return &Emitter{publishers: publishers, log: log}
}

// Emit publishes the event to every sink, fire-and-forget.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload interface{}) {
	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	successCount := 0
	for i, publisher := range e.publishers {
		if err := publisher.PublishEvent(ctx, Topic, event); err != nil {
			e.log.Error("failed to publish event",
				zap.Int("publisher_index", i),
				zap.String("event_type", eventType),
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
		} else {
			successCount++
		}
	}

	e.log.Debug("published engine event",
		zap.String("event_type", eventType),
		zap.String("event_id", event.ID.String()),
		zap.Int("publishers_success", successCount),
		zap.Int("publishers_total", len(e.publishers)),
	)
}

// KafkaPublisher implements Publisher for Apache Kafka.
type KafkaPublisher struct {
	brokers []string
	writer  *kafka.Writer
	log     logger.Logger
}

// NewKafkaPublisher creates a Kafka publisher.
func NewKafkaPublisher(brokers []string, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{brokers: brokers, log: log}
}

// PublishEvent publishes an event to Kafka.
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if k.writer == nil {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		}
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%d", topic, time.Now().UnixNano())),
		Value: eventData,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	return k.writer.WriteMessages(ctx, msg)
}

// RedisPublisher implements Publisher for Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisPublisher creates a Redis Streams publisher.
func NewRedisPublisher(client *redis.Client, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

// PublishEvent appends the event to a Redis Stream named after the topic.
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"data":      string(eventData),
			"timestamp": time.Now().Format(time.RFC3339),
			"source":    "matching-engine",
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}
	return nil
}
