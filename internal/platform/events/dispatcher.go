package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/requestctx"
	"github.com/hanko-field/rewards/internal/services"
)

// Disposition tells a transport what to do with a delivered message.
type Disposition int

const (
	// Ack settles the message. Used for processed events and for messages that can never succeed.
	Ack Disposition = iota
	// Retry asks the transport to redeliver.
	Retry
)

// Dispatcher feeds decoded reward events into the event processor.
type Dispatcher struct {
	processor services.EventProcessor
	logger    *zap.Logger
	observe   func(ctx context.Context, outcome string)
}

// NewDispatcher constructs a dispatcher. A nil logger discards output.
func NewDispatcher(processor services.EventProcessor, logger *zap.Logger) (*Dispatcher, error) {
	if processor == nil {
		return nil, errors.New("events dispatcher: processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{processor: processor, logger: logger}, nil
}

// Observe registers fn to receive the outcome of every dispatch: processed, duplicate, skipped,
// rejected or retry.
func (d *Dispatcher) Observe(fn func(ctx context.Context, outcome string)) {
	d.observe = fn
}

// Dispatch processes one message body. Validation failures are acknowledged and logged since
// redelivery cannot fix them; anything else is retried. Duplicate deliveries are acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID string, data []byte) Disposition {
	disposition, outcome := d.dispatch(ctx, messageID, data)
	if d.observe != nil {
		d.observe(ctx, outcome)
	}
	return disposition
}

func (d *Dispatcher) dispatch(ctx context.Context, messageID string, data []byte) (Disposition, string) {
	logger := d.logger.With(zap.String("messageId", messageID))

	event, err := DecodeRewardEvent(data)
	if err != nil {
		logger.Warn("reward event rejected", zap.Error(err))
		return Ack, "rejected"
	}
	logger = logger.With(zap.String("userId", event.UserID), zap.String("sourceId", event.SourceID()))
	ctx = requestctx.WithEventKey(ctx, event.EventKey)

	outcome, err := d.processor.Process(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrValidation):
		logger.Warn("reward event rejected", zap.Error(err))
		return Ack, "rejected"
	default:
		logger.Error("reward event failed", zap.Error(err))
		return Retry, "retry"
	}

	fields := []zap.Field{
		zap.Int64("rewardCents", outcome.Calculation.RewardCents),
		zap.Bool("duplicate", outcome.Duplicate),
	}
	label := "processed"
	switch {
	case outcome.Skipped:
		fields = append(fields, zap.String("skipReason", outcome.SkipReason))
		label = "skipped"
	case outcome.Duplicate:
		label = "duplicate"
	}
	logger.Info("reward event processed", fields...)
	return Ack, label
}
