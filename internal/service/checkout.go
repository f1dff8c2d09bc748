package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/client"
	"donation-platform/internal/config"
	"donation-platform/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CheckoutService interface {
	CreateSubscriptionCheckout(ctx context.Context, priceRef, accountID, successURL, cancelURL string) (*model.SessionRef, error)
	CreateOneTimeCheckout(ctx context.Context, amount int64, accountID, successURL, cancelURL string) (*model.SessionRef, error)
	VerifyCheckoutOutcome(ctx context.Context, sessionID string) (*model.CheckoutOutcome, error)
}

type checkoutServiceImpl struct {
	processor       client.PaymentProcessor
	currency        string
	minimumDonation int64
	donationLabel   string
	timeout         time.Duration
	log             zerolog.Logger
}

func NewCheckoutService(processor client.PaymentProcessor, stripeCfg *config.Stripe, log zerolog.Logger) CheckoutService {
	return &checkoutServiceImpl{
		processor:       processor,
		currency:        strings.ToLower(stripeCfg.Currency),
		minimumDonation: stripeCfg.MinimumDonation,
		donationLabel:   stripeCfg.DonationLabel,
		timeout:         stripeCfg.CheckoutTimeout,
		log:             log.With().Str("component", "checkout").Logger(),
	}
}

func (s *checkoutServiceImpl) CreateSubscriptionCheckout(ctx context.Context, priceRef, accountID, successURL, cancelURL string) (*model.SessionRef, error) {
	const op = "checkout.CreateSubscriptionCheckout"

	if err := requireFields(op, map[string]string{
		"price": priceRef, "account id": accountID, "success url": successURL, "cancel url": cancelURL,
	}); err != nil {
		return nil, err
	}

	return s.open(ctx, op, model.CheckoutIntent{
		Mode:       model.CheckoutModeSubscription,
		PriceRef:   priceRef,
		AccountID:  accountID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
}

func (s *checkoutServiceImpl) CreateOneTimeCheckout(ctx context.Context, amount int64, accountID, successURL, cancelURL string) (*model.SessionRef, error) {
	const op = "checkout.CreateOneTimeCheckout"

	if amount < s.minimumDonation {
		return nil, apperr.New(apperr.KindInvalidArgument, op,
			fmt.Sprintf("amount %s is below the minimum of %s",
				FormatMinorUnits(amount, s.currency), FormatMinorUnits(s.minimumDonation, s.currency)))
	}
	if err := requireFields(op, map[string]string{
		"account id": accountID, "success url": successURL, "cancel url": cancelURL,
	}); err != nil {
		return nil, err
	}

	return s.open(ctx, op, model.CheckoutIntent{
		Mode:        model.CheckoutModeOneTime,
		Amount:      amount,
		Currency:    s.currency,
		AccountID:   accountID,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		ProductName: s.donationLabel,
	})
}

func (s *checkoutServiceImpl) open(ctx context.Context, op string, intent model.CheckoutIntent) (*model.SessionRef, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, intent, uuid.NewString())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperr.Is(err, apperr.KindUpstreamTimeout) {
			err = apperr.Wrap(apperr.KindUpstreamTimeout, op, err)
		}
		s.log.Warn().Err(err).Str("account_id", intent.AccountID).Str("mode", string(intent.Mode)).Msg("checkout creation failed")
		return nil, err
	}

	ev := s.log.Info().Str("account_id", intent.AccountID).Str("session_id", sess.ID).Str("mode", string(intent.Mode))
	if intent.Mode == model.CheckoutModeOneTime {
		ev = ev.Str("amount", FormatMinorUnits(intent.Amount, intent.Currency))
	}
	ev.Msg("checkout session created")

	return &model.SessionRef{ID: sess.ID, URL: sess.URL}, nil
}

func (s *checkoutServiceImpl) VerifyCheckoutOutcome(ctx context.Context, sessionID string) (*model.CheckoutOutcome, error) {
	const op = "checkout.VerifyCheckoutOutcome"

	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, op, "session id is required")
	}

	sess, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PaymentStatus != model.PaymentStatusPaid {
		return nil, apperr.New(apperr.KindNotCompleted, op, fmt.Sprintf("payment status is %q", sess.PaymentStatus))
	}

	accountID := sess.AccountID()
	if accountID == "" {
		return nil, apperr.New(apperr.KindMissingCorrelation, op, "session carries no account id")
	}

	outcome := &model.CheckoutOutcome{
		AccountID: accountID,
		Mode:      sess.Mode,
	}
	if sess.Mode == model.CheckoutModeSubscription {
		outcome.SubscriptionID = sess.Subscription.String()
	} else {
		outcome.AmountPaid = sess.AmountTotal
		outcome.Currency = sess.Currency
	}
	return outcome, nil
}

func requireFields(op string, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return apperr.New(apperr.KindInvalidArgument, op, "missing "+strings.Join(missing, ", "))
}
