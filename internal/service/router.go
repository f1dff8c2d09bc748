package service

import (
	"context"

	"donation-platform/internal/model"

	"github.com/rs/zerolog"
)

// EventHandlers receives routed events, one method per known kind.
type EventHandlers interface {
	HandleCheckoutCompleted(ctx context.Context, evt *model.InboundEvent) error
	HandleSubscriptionChanged(ctx context.Context, evt *model.InboundEvent) error
	HandleSubscriptionDeleted(ctx context.Context, evt *model.InboundEvent) error
	HandleInvoicePaid(ctx context.Context, evt *model.InboundEvent) error
	HandleInvoicePaymentFailed(ctx context.Context, evt *model.InboundEvent) error
}

type EventRouter interface {
	Route(ctx context.Context, evt *model.InboundEvent) error
}

type eventRouterImpl struct {
	handlers EventHandlers
	log      zerolog.Logger
}

func NewEventRouter(handlers EventHandlers, log zerolog.Logger) EventRouter {
	return &eventRouterImpl{
		handlers: handlers,
		log:      log.With().Str("component", "router").Logger(),
	}
}

func (r *eventRouterImpl) Route(ctx context.Context, evt *model.InboundEvent) error {
	switch evt.Type {
	case model.EventCheckoutCompleted:
		return r.handlers.HandleCheckoutCompleted(ctx, evt)
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated:
		return r.handlers.HandleSubscriptionChanged(ctx, evt)
	case model.EventSubscriptionDeleted:
		return r.handlers.HandleSubscriptionDeleted(ctx, evt)
	case model.EventInvoicePaid:
		return r.handlers.HandleInvoicePaid(ctx, evt)
	case model.EventInvoicePaymentFailed:
		return r.handlers.HandleInvoicePaymentFailed(ctx, evt)
	default:
		r.log.Debug().Str("event_id", evt.ID).Str("event_type", evt.ProcessorType).Msg("ignoring unhandled event type")
		return nil
	}
}
