package service

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/config"
	"donation-platform/internal/model"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// EventVerifier authenticates processor notifications. Nothing downstream
// trusts a payload that did not pass through Verify.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*model.InboundEvent, error)
	// Decode rebuilds an event from a payload that was verified when it was received.
	Decode(payload []byte) (*model.InboundEvent, error)
}

type eventVerifierImpl struct {
	secret       string
	tolerance    time.Duration
	maxBodyBytes int64
}

func NewEventVerifier(stripeCfg *config.Stripe) EventVerifier {
	return &eventVerifierImpl{
		secret:       stripeCfg.WebhookSecret,
		tolerance:    stripeCfg.WebhookTolerance,
		maxBodyBytes: stripeCfg.WebhookMaxBodyBytes,
	}
}

func (v *eventVerifierImpl) Verify(payload []byte, signatureHeader string) (*model.InboundEvent, error) {
	const op = "verifier.Verify"

	if len(payload) == 0 {
		return nil, apperr.New(apperr.KindSignature, op, "empty payload")
	}
	if v.maxBodyBytes > 0 && int64(len(payload)) > v.maxBodyBytes {
		return nil, apperr.New(apperr.KindSignature, op, "payload exceeds size limit")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, apperr.New(apperr.KindSignature, op, "missing signature header")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureFailure(err) {
			return nil, apperr.Wrap(apperr.KindSignature, op, err)
		}
		return nil, apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}

	return toInboundEvent(op, &event, payload)
}

func (v *eventVerifierImpl) Decode(payload []byte) (*model.InboundEvent, error) {
	const op = "verifier.Decode"

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}
	return toInboundEvent(op, &event, payload)
}

func isSignatureFailure(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func toInboundEvent(op string, event *stripe.Event, payload []byte) (*model.InboundEvent, error) {
	if event.ID == "" || event.Type == "" {
		return nil, apperr.New(apperr.KindMalformedEvent, op, "event without id or type")
	}

	var object json.RawMessage
	if event.Data != nil {
		object = event.Data.Raw
	}

	return &model.InboundEvent{
		ID:            event.ID,
		Type:          model.EventTypeFromProcessor(string(event.Type)),
		ProcessorType: string(event.Type),
		CreatedAt:     time.Unix(event.Created, 0).UTC(),
		Object:        object,
		Raw:           payload,
	}, nil
}
