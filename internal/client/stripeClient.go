package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/config"
	"donation-platform/internal/model"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"
)

// PaymentProcessor is everything the billing services need from the processor API.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, intent model.CheckoutIntent, idempotencyKey string) (*model.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
}

type stripeClientImpl struct {
	api    *stripeclient.API
	cb     *gobreaker.CircuitBreaker
	policy retryPolicy
	log    zerolog.Logger
}

func NewStripeClient(stripeCfg *config.Stripe, log zerolog.Logger) PaymentProcessor {
	log = log.With().Str("component", "stripe").Logger()

	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: stripeCfg.HTTPTimeout,
		},
		// retries are ours so the breaker sees one call per operation
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{log: log},
	}
	if stripeCfg.APIBaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(stripeCfg.APIBaseURL, "/"))
	}

	c := &stripeClientImpl{
		api: stripeclient.New(stripeCfg.SecretKey, stripe.NewBackendsWithConfig(backendCfg)),
		policy: retryPolicy{
			attempts:  stripeCfg.MaxRetries,
			baseDelay: stripeCfg.RetryBaseDelay,
		},
		log: log,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stripe-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// rejected requests are the caller's problem, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return c
}

func (c *stripeClientImpl) CreateCheckoutSession(ctx context.Context, intent model.CheckoutIntent, idempotencyKey string) (*model.CheckoutSession, error) {
	const op = "stripe.CreateCheckoutSession"

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(intent.Mode)),
		SuccessURL:        stripe.String(intent.SuccessURL),
		CancelURL:         stripe.String(intent.CancelURL),
		ClientReferenceID: stripe.String(intent.AccountID),
		Metadata:          map[string]string{model.MetadataAccountID: intent.AccountID},
	}

	switch intent.Mode {
	case model.CheckoutModeSubscription:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(intent.PriceRef),
			Quantity: stripe.Int64(1),
		}}
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{model.MetadataAccountID: intent.AccountID},
		}
	case model.CheckoutModeOneTime:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(intent.Currency),
				UnitAmount: stripe.Int64(intent.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(intent.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}}
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{model.MetadataAccountID: intent.AccountID},
		}
	default:
		return nil, apperr.New(apperr.KindInvalidArgument, op, fmt.Sprintf("unsupported checkout mode %q", intent.Mode))
	}

	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	sess, err := call(ctx, c, op, func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params.Context = ctx
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(sess), nil
}

func (c *stripeClientImpl) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	sess, err := call(ctx, c, "stripe.GetCheckoutSession", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		return c.api.CheckoutSessions.Get(sessionID, params)
	})
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(sess), nil
}

func (c *stripeClientImpl) GetSubscription(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	sub, err := call(ctx, c, "stripe.GetSubscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return c.api.Subscriptions.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return toSubscriptionSnapshot(sub), nil
}

func (c *stripeClientImpl) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	p, err := call(ctx, c, "stripe.GetProduct", func(ctx context.Context) (*stripe.Product, error) {
		params := &stripe.ProductParams{}
		params.Context = ctx
		return c.api.Products.Get(productID, params)
	})
	if err != nil {
		return nil, err
	}
	return &model.Product{ID: p.ID, Name: p.Name}, nil
}

// call runs one logical processor operation through the breaker and the retry loop.
func call[T any](ctx context.Context, c *stripeClientImpl, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res, err := c.cb.Execute(func() (interface{}, error) {
		return retryWithBackoff(ctx, c.policy, isTransient, fn)
	})
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Msg("processor call failed")
		return zero, classify(ctx, op, err)
	}
	return res.(T), nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500
	}
	return true
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindUpstreamTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindUpstreamTimeout, op, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.Is(err, errRetriesExhausted) {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, op, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return apperr.Wrap(apperr.KindNotFound, op, err)
		case stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != http.StatusTooManyRequests:
			return apperr.Wrap(apperr.KindUpstreamRejected, op, err)
		}
	}
	return apperr.Wrap(apperr.KindUpstreamUnavailable, op, err)
}

func toCheckoutSession(s *stripe.CheckoutSession) *model.CheckoutSession {
	out := &model.CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		Mode:              model.CheckoutMode(s.Mode),
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.Customer = model.ExpandableID(s.Customer.ID)
	}
	if s.Subscription != nil {
		out.Subscription = model.ExpandableID(s.Subscription.ID)
	}
	return out
}

func toSubscriptionSnapshot(s *stripe.Subscription) *model.SubscriptionSnapshot {
	obj := &model.SubscriptionObject{
		ID:                s.ID,
		Status:            string(s.Status),
		StartDate:         s.StartDate,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		obj.Customer = model.ExpandableID(s.Customer.ID)
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			if obj.CurrentPeriodEnd == 0 {
				obj.CurrentPeriodEnd = item.CurrentPeriodEnd
			}
			if item.Price != nil && obj.Items.Data == nil {
				snapItem := model.SubscriptionItemObject{CurrentPeriodEnd: item.CurrentPeriodEnd}
				snapItem.Price.ID = item.Price.ID
				if item.Price.Product != nil {
					snapItem.Price.Product = model.ExpandableID(item.Price.Product.ID)
				}
				obj.Items.Data = append(obj.Items.Data, snapItem)
			}
		}
	}
	return obj.Snapshot()
}

// stripeLogger routes stripe-go's internal logging into zerolog.
type stripeLogger struct {
	log zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
