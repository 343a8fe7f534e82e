package messaging

import (
	"context"
	"time"

	"github.com/subcommerce/billing-engine/internal/domain/event"
	"github.com/subcommerce/billing-engine/pkg/messaging"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// EventPublisher delivers collaborator events over redis pub/sub.
// Publishing is fire-and-forget: failures are logged and never reach the
// money-movement path.
type EventPublisher struct {
	client messaging.RedisClient
	logger *zap.Logger
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(client messaging.RedisClient, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{client: client, logger: logger}
}

var _ event.Publisher = (*EventPublisher)(nil)

func (p *EventPublisher) PaymentSucceeded(ctx context.Context, evt event.PaymentSucceeded) {
	p.publish(ctx, event.ChannelPaymentSuccess, evt)
}

func (p *EventPublisher) PaymentFailed(ctx context.Context, evt event.PaymentFailed) {
	p.publish(ctx, event.ChannelPaymentFailed, evt)
}

func (p *EventPublisher) PaymentRetry(ctx context.Context, evt event.PaymentRetry) {
	p.publish(ctx, event.ChannelPaymentRetry, evt)
}

func (p *EventPublisher) publish(ctx context.Context, channel string, payload interface{}) {
	if p.client == nil {
		return
	}

	// Detach from the caller's cancellation; the event should still go out
	// when the request context has already ended.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(publishCtx, channel, payload); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}
