package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventUnknown              EventType = "unknown"
	EventCheckoutCompleted    EventType = "checkout-completed"
	EventSubscriptionCreated  EventType = "subscription-created"
	EventSubscriptionUpdated  EventType = "subscription-updated"
	EventSubscriptionDeleted  EventType = "subscription-deleted"
	EventInvoicePaid          EventType = "invoice-paid"
	EventInvoicePaymentFailed EventType = "invoice-payment-failed"
)

// processorEventTypes maps Stripe event names onto the kinds the router handles.
var processorEventTypes = map[string]EventType{
	"checkout.session.completed": EventCheckoutCompleted,
	// delayed payment methods settle after the session completes
	"checkout.session.async_payment_succeeded": EventCheckoutCompleted,
	"customer.subscription.created":            EventSubscriptionCreated,
	"customer.subscription.updated":            EventSubscriptionUpdated,
	"customer.subscription.deleted":            EventSubscriptionDeleted,
	"invoice.paid":                             EventInvoicePaid,
	"invoice.payment_succeeded":                EventInvoicePaid,
	"invoice.payment_failed":                   EventInvoicePaymentFailed,
}

func EventTypeFromProcessor(name string) EventType {
	if t, ok := processorEventTypes[name]; ok {
		return t
	}
	return EventUnknown
}

// InboundEvent is a verified processor notification.
type InboundEvent struct {
	ID            string
	Type          EventType
	ProcessorType string
	CreatedAt     time.Time
	// Object is the raw data.object of the event.
	Object json.RawMessage
	// Raw is the full signed payload, kept for the inbox.
	Raw []byte
}
