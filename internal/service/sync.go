package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/client"
	"donation-platform/internal/lock"
	"donation-platform/internal/model"
	"donation-platform/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SyncInput is one normalized subscription state change for an account.
type SyncInput struct {
	AccountID         string
	Status            model.SubscriptionStatus
	Tier              model.Tier
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	StartDate         *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	EventID           string
	EventTimestamp    time.Time
	// Deletion marks a processor-side deletion, which is terminal for its subscription.
	Deletion bool
}

type SyncResult struct {
	Applied bool
	Flag    model.AccountAccessFlag
}

// SyncService is the only writer of subscription records and account access flags.
type SyncService interface {
	EventHandlers
	Apply(ctx context.Context, in SyncInput) (*SyncResult, error)
	RecordDonation(ctx context.Context, accountID string, amount int64, at time.Time) error
	RepairAccess(ctx context.Context, accountID string) (model.AccountAccessFlag, error)
	RepairAll(ctx context.Context) (int, error)
}

type syncServiceImpl struct {
	db          *gorm.DB
	processor   client.PaymentProcessor
	locker      lock.KeyedLocker
	subRepo     repository.SubscriptionRepository
	accountRepo repository.AccountRepository
	log         zerolog.Logger
}

func NewSyncService(
	db *gorm.DB,
	processor client.PaymentProcessor,
	locker lock.KeyedLocker,
	subRepo repository.SubscriptionRepository,
	accountRepo repository.AccountRepository,
	log zerolog.Logger,
) SyncService {
	return &syncServiceImpl{
		db:          db,
		processor:   processor,
		locker:      locker,
		subRepo:     subRepo,
		accountRepo: accountRepo,
		log:         log.With().Str("component", "sync").Logger(),
	}
}

func (s *syncServiceImpl) Apply(ctx context.Context, in SyncInput) (*SyncResult, error) {
	const op = "sync.Apply"

	if in.AccountID == "" {
		return nil, apperr.New(apperr.KindUnresolvedCorrelation, op, "no account for subscription "+in.SubscriptionID)
	}

	unlock, err := s.locker.Lock(ctx, in.AccountID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	defer unlock()

	result := &SyncResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.subRepo.FindByAccountID(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}

		rec := current
		if ok, reason := shouldApply(current, in); ok {
			rec = in.record(current)
			if err := s.subRepo.Upsert(ctx, tx, rec); err != nil {
				return err
			}
			result.Applied = true
		} else {
			s.log.Debug().
				Str("account_id", in.AccountID).
				Str("event_id", in.EventID).
				Str("reason", reason).
				Msg("subscription write skipped")
		}

		// always recompute from the stored record so an earlier split write heals
		result.Flag = model.DeriveAccessFlag(in.AccountID, rec)
		return s.accountRepo.UpsertAccess(ctx, tx, result.Flag)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	if result.Applied {
		s.log.Info().
			Str("account_id", in.AccountID).
			Str("event_id", in.EventID).
			Str("subscription_id", in.SubscriptionID).
			Str("status", string(in.Status)).
			Str("tier", string(result.Flag.Tier)).
			Bool("has_active_access", result.Flag.HasActiveAccess).
			Msg("subscription synced")
	}

	return result, nil
}

// shouldApply is the anti-regression guard.
func shouldApply(current *model.SubscriptionRecord, in SyncInput) (bool, string) {
	if current == nil {
		return true, ""
	}

	sameSubscription := current.ExternalSubscriptionID == "" || current.ExternalSubscriptionID == in.SubscriptionID
	if in.Deletion && sameSubscription {
		return true, ""
	}
	if !sameSubscription && current.Status.GrantsAccess() && !in.Status.GrantsAccess() {
		return false, "superseded subscription"
	}
	if current.UpdatedAt.After(in.EventTimestamp) {
		return false, "stale event"
	}
	if current.UpdatedAt.Equal(in.EventTimestamp) && sameSubscription && current.LastEventID != in.EventID {
		// processor timestamps have one-second resolution, so events sharing a
		// second arrive in any order; neither may take access away
		if current.Status == model.StatusCanceled {
			return false, "already canceled"
		}
		if current.Status.GrantsAccess() && !in.Status.GrantsAccess() {
			return false, "equal timestamp regression"
		}
	}
	return true, ""
}

func (in SyncInput) record(current *model.SubscriptionRecord) *model.SubscriptionRecord {
	rec := &model.SubscriptionRecord{
		AccountID:              in.AccountID,
		Status:                 in.Status,
		Tier:                   in.Tier,
		ExternalCustomerID:     in.CustomerID,
		ExternalSubscriptionID: in.SubscriptionID,
		ExternalPriceID:        in.PriceID,
		StartDate:              in.StartDate,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		LastEventID:            in.EventID,
		UpdatedAt:              in.EventTimestamp.UTC(),
	}
	if in.Status == "" {
		rec.Status = model.StatusIncomplete
	}

	if current != nil {
		rec.CreatedAt = current.CreatedAt
		if rec.Tier == "" {
			rec.Tier = current.Tier
		}
		if rec.ExternalCustomerID == "" {
			rec.ExternalCustomerID = current.ExternalCustomerID
		}
		if rec.ExternalPriceID == "" {
			rec.ExternalPriceID = current.ExternalPriceID
		}
		if rec.StartDate == nil {
			rec.StartDate = current.StartDate
		}
		if current.UpdatedAt.After(rec.UpdatedAt) {
			rec.UpdatedAt = current.UpdatedAt
		}
	}
	if rec.Tier == "" {
		rec.Tier = model.TierMonthly
	}
	return rec
}

func (s *syncServiceImpl) RecordDonation(ctx context.Context, accountID string, amount int64, at time.Time) error {
	const op = "sync.RecordDonation"

	if accountID == "" {
		return apperr.New(apperr.KindUnresolvedCorrelation, op, "donation without account")
	}

	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, op, err)
	}
	defer unlock()

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, op, err)
	}
	if account != nil && account.LastDonationAt != nil && account.LastDonationAt.After(at) {
		return nil
	}

	if err := s.accountRepo.MarkDonated(ctx, nil, accountID, amount, at.UTC()); err != nil {
		return apperr.Wrap(apperr.KindPersistence, op, err)
	}

	s.log.Info().Str("account_id", accountID).Int64("amount", amount).Msg("donation recorded")
	return nil
}

func (s *syncServiceImpl) RepairAccess(ctx context.Context, accountID string) (model.AccountAccessFlag, error) {
	const op = "sync.RepairAccess"

	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return model.AccountAccessFlag{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	defer unlock()

	var flag model.AccountAccessFlag
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.subRepo.FindByAccountID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		flag = model.DeriveAccessFlag(accountID, rec)
		return s.accountRepo.UpsertAccess(ctx, tx, flag)
	})
	if err != nil {
		return model.AccountAccessFlag{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	return flag, nil
}

// RepairAll recomputes every account that has a subscription record or currently
// holds access. It keeps going past individual failures.
func (s *syncServiceImpl) RepairAll(ctx context.Context) (int, error) {
	const op = "sync.RepairAll"

	withRecords, err := s.subRepo.ListAccountIDs(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	withAccess, err := s.accountRepo.ListWithAccess(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	seen := make(map[string]bool, len(withRecords)+len(withAccess))
	var errs []error
	repaired := 0
	for _, id := range append(withRecords, withAccess...) {
		if seen[id] {
			continue
		}
		seen[id] = true

		if _, err := s.RepairAccess(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		repaired++
	}

	return repaired, errors.Join(errs...)
}

func (s *syncServiceImpl) HandleCheckoutCompleted(ctx context.Context, evt *model.InboundEvent) error {
	const op = "sync.HandleCheckoutCompleted"

	var sess model.CheckoutSession
	if err := json.Unmarshal(evt.Object, &sess); err != nil {
		return apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}
	accountID := sess.AccountID()

	switch sess.Mode {
	case model.CheckoutModeSubscription:
		subID := sess.Subscription.String()
		if subID == "" {
			return apperr.New(apperr.KindMalformedEvent, op, "subscription checkout without subscription")
		}

		snap, err := s.processor.GetSubscription(ctx, subID)
		if err != nil {
			return err
		}
		if accountID == "" {
			accountID = snap.AccountID()
		}
		if snap.CustomerID == "" {
			snap.CustomerID = sess.Customer.String()
		}
		return s.applySnapshot(ctx, op, evt, snap, accountID, snap.Status, false)

	case model.CheckoutModeOneTime:
		if sess.PaymentStatus != model.PaymentStatusPaid {
			s.log.Info().Str("session_id", sess.ID).Str("payment_status", sess.PaymentStatus).Msg("one-time checkout completed without payment yet")
			return nil
		}
		return s.RecordDonation(ctx, accountID, sess.AmountTotal, evt.CreatedAt)

	default:
		s.log.Debug().Str("session_id", sess.ID).Str("mode", string(sess.Mode)).Msg("ignoring checkout mode")
		return nil
	}
}

func (s *syncServiceImpl) HandleSubscriptionChanged(ctx context.Context, evt *model.InboundEvent) error {
	const op = "sync.HandleSubscriptionChanged"

	snap, err := decodeSubscription(op, evt)
	if err != nil {
		return err
	}
	return s.applySnapshot(ctx, op, evt, snap, snap.AccountID(), snap.Status, false)
}

func (s *syncServiceImpl) HandleSubscriptionDeleted(ctx context.Context, evt *model.InboundEvent) error {
	const op = "sync.HandleSubscriptionDeleted"

	snap, err := decodeSubscription(op, evt)
	if err != nil {
		return err
	}
	snap.CancelAtPeriodEnd = true
	return s.applySnapshot(ctx, op, evt, snap, snap.AccountID(), model.StatusCanceled, true)
}

func (s *syncServiceImpl) HandleInvoicePaid(ctx context.Context, evt *model.InboundEvent) error {
	const op = "sync.HandleInvoicePaid"

	var inv model.InvoiceObject
	if err := json.Unmarshal(evt.Object, &inv); err != nil {
		return apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}

	subID := inv.SubscriptionID()
	if subID == "" {
		// one-time payment: flags the donor, never a subscription
		return s.RecordDonation(ctx, inv.AccountID(), inv.AmountPaid, evt.CreatedAt)
	}

	accountID, err := s.correlate(ctx, op, inv.AccountID(), subID, inv.Customer.String())
	if err != nil && !apperr.Is(err, apperr.KindUnresolvedCorrelation) {
		return err
	}
	if accountID != "" {
		stored, err := s.subRepo.FindByAccountID(ctx, nil, accountID)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistence, op, err)
		}
		if stored != nil && stored.ExternalSubscriptionID == subID && stored.Status == model.StatusActive {
			return nil
		}
	}

	snap, err := s.processor.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if accountID == "" {
		accountID = snap.AccountID()
	}
	return s.applySnapshot(ctx, op, evt, snap, accountID, model.StatusActive, false)
}

func (s *syncServiceImpl) HandleInvoicePaymentFailed(ctx context.Context, evt *model.InboundEvent) error {
	const op = "sync.HandleInvoicePaymentFailed"

	var inv model.InvoiceObject
	if err := json.Unmarshal(evt.Object, &inv); err != nil {
		return apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}

	subID := inv.SubscriptionID()
	if subID == "" {
		return nil
	}

	snap, err := s.processor.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if snap.Status != model.StatusPastDue && snap.Status != model.StatusUnpaid {
		s.log.Info().
			Str("subscription_id", subID).
			Str("status", string(snap.Status)).
			Msg("payment failure does not change subscription status")
		return nil
	}

	accountID := inv.AccountID()
	if accountID == "" {
		accountID = snap.AccountID()
	}
	return s.applySnapshot(ctx, op, evt, snap, accountID, snap.Status, false)
}

func (s *syncServiceImpl) applySnapshot(ctx context.Context, op string, evt *model.InboundEvent, snap *model.SubscriptionSnapshot, accountID string, status model.SubscriptionStatus, deletion bool) error {
	accountID, err := s.correlate(ctx, op, accountID, snap.ID, snap.CustomerID)
	if err != nil {
		return err
	}

	tier, err := s.tierFor(ctx, accountID, snap, deletion)
	if err != nil {
		return err
	}

	_, err = s.Apply(ctx, SyncInput{
		AccountID:         accountID,
		Status:            status,
		Tier:              tier,
		CustomerID:        snap.CustomerID,
		SubscriptionID:    snap.ID,
		PriceID:           snap.PriceID,
		StartDate:         snap.StartDate,
		CurrentPeriodEnd:  snap.CurrentPeriodEnd,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
		EventID:           evt.ID,
		EventTimestamp:    evt.CreatedAt,
		Deletion:          deletion,
	})
	return err
}

// correlate walks metadata, then the stored subscription id, then the stored customer id.
func (s *syncServiceImpl) correlate(ctx context.Context, op, accountID, subscriptionID, customerID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}

	rec, err := s.subRepo.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, op, err)
	}
	if rec == nil {
		rec, err = s.subRepo.FindByCustomerID(ctx, customerID)
		if err != nil {
			return "", apperr.Wrap(apperr.KindPersistence, op, err)
		}
	}
	if rec == nil {
		return "", apperr.New(apperr.KindUnresolvedCorrelation, op, "no account for subscription "+subscriptionID)
	}
	return rec.AccountID, nil
}

// tierFor reuses the stored tier while the price is unchanged and otherwise
// resolves it from the product name. Deletions never wait on the processor.
func (s *syncServiceImpl) tierFor(ctx context.Context, accountID string, snap *model.SubscriptionSnapshot, deletion bool) (model.Tier, error) {
	stored, err := s.subRepo.FindByAccountID(ctx, nil, accountID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, "sync.tierFor", err)
	}
	if stored != nil && stored.Tier != "" && stored.ExternalPriceID != "" && stored.ExternalPriceID == snap.PriceID {
		return stored.Tier, nil
	}
	if snap.ProductID == "" {
		return ResolveTier(""), nil
	}

	product, err := s.processor.GetProduct(ctx, snap.ProductID)
	switch {
	case err == nil:
		return ResolveTier(product.Name), nil
	case deletion || apperr.Is(err, apperr.KindNotFound):
		s.log.Warn().Err(err).Str("product_id", snap.ProductID).Msg("product lookup failed, using fallback tier")
		if stored != nil && stored.Tier != "" {
			return stored.Tier, nil
		}
		return ResolveTier(""), nil
	default:
		return "", err
	}
}

func decodeSubscription(op string, evt *model.InboundEvent) (*model.SubscriptionSnapshot, error) {
	var obj model.SubscriptionObject
	if err := json.Unmarshal(evt.Object, &obj); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedEvent, op, err)
	}
	if obj.ID == "" {
		return nil, apperr.New(apperr.KindMalformedEvent, op, "subscription without id")
	}
	return obj.Snapshot(), nil
}
