package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/rewards/internal/services"
)

// PubSubPublisher publishes domain events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

var _ services.EventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// PublishEvent blocks until the server acknowledges the message.
func (p *PubSubPublisher) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	data, err := encodeDomainEvent(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "userId", event.UserID)
	if id, ok := event.Payload["entryId"].(string); ok {
		setAttr(attrs, "entryId", id)
	}
	if id, ok := event.Payload["redemptionId"].(string); ok {
		setAttr(attrs, "redemptionId", id)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// PubSubSubscriber receives reward events from a Pub/Sub subscription.
type PubSubSubscriber struct {
	sub        *pubsub.Subscription
	dispatcher *Dispatcher
}

// NewPubSubSubscriber binds a subscription to a dispatcher.
func NewPubSubSubscriber(sub *pubsub.Subscription, dispatcher *Dispatcher) (*PubSubSubscriber, error) {
	if sub == nil {
		return nil, errors.New("pubsub subscriber: subscription is required")
	}
	if dispatcher == nil {
		return nil, errors.New("pubsub subscriber: dispatcher is required")
	}
	return &PubSubSubscriber{sub: sub, dispatcher: dispatcher}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *PubSubSubscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.dispatcher.Dispatch(ctx, msg.ID, msg.Data) == Retry {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
