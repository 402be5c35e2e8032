package services

import (
	"context"
	"time"
)

const (
	// EventRewardGranted is published after a new grant is appended to the ledger.
	EventRewardGranted = "reward.granted"
	// EventRedemptionPaid is published after a redemption debit is appended to the ledger.
	EventRedemptionPaid = "redemption.paid"
)

// DomainEvent is an outbound notification about a ledger change. The ledger stays the source of truth;
// publishing failures are logged and never roll back a committed write.
type DomainEvent struct {
	Type       string
	UserID     string
	OccurredAt time.Time
	Payload    map[string]any
}

// EventPublisher delivers domain events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DomainEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, DomainEvent) error { return nil }
