package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hanko-field/rewards/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes domain events keyed by user so one user's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	clock  func() time.Time
}

var _ services.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher constructs a publisher writing to topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
		clock: time.Now,
	}, nil
}

// PublishEvent writes one message with the event type in a header.
func (p *KafkaPublisher) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	data, err := encodeDomainEvent(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.UserID),
		Value:   data,
		Time:    p.clock().UTC(),
		Headers: []kafka.Header{{Key: "eventType", Value: []byte(event.Type)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads reward events from a topic as part of a consumer group.
// Offsets are committed only after the dispatcher settles a message.
type KafkaConsumer struct {
	reader     messageReader
	dispatcher *Dispatcher
	backoff    time.Duration
}

// NewKafkaConsumer constructs a consumer group reader for topic.
func NewKafkaConsumer(brokers []string, groupID, topic string, dispatcher *Dispatcher) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka consumer: group id and topic are required")
	}
	if dispatcher == nil {
		return nil, errors.New("kafka consumer: dispatcher is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: reader, dispatcher: dispatcher, backoff: time.Second}, nil
}

// Run consumes until ctx is cancelled. A message asking for a retry is redispatched after a
// backoff without committing, keeping partition order intact.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		id := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		for c.dispatcher.Dispatch(ctx, id, msg.Value) == Retry {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
