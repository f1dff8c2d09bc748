package service

import (
	"context"
	"testing"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func baseInput(status model.SubscriptionStatus, at time.Time) SyncInput {
	return SyncInput{
		AccountID:      "u1",
		Status:         status,
		Tier:           model.TierMonthly,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		PriceID:        "price_monthly",
		EventID:        "evt_" + at.Format("150405"),
		EventTimestamp: at,
	}
}

func TestSyncService_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	in := baseInput(model.StatusActive, t0)

	first, err := f.sync.Apply(ctx, in)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	once := *f.record(t, "u1")

	_, err = f.sync.Apply(ctx, in)
	require.NoError(t, err)
	twice := *f.record(t, "u1")

	assert.Equal(t, once.Status, twice.Status)
	assert.Equal(t, once.Tier, twice.Tier)
	assert.Equal(t, once.ExternalSubscriptionID, twice.ExternalSubscriptionID)
	assert.Equal(t, once.LastEventID, twice.LastEventID)
	assert.True(t, once.UpdatedAt.Equal(twice.UpdatedAt))
	assert.True(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_StaleEventDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	t1, t2 := t0, t0.Add(time.Hour)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusPastDue, t2))
	require.NoError(t, err)

	res, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t1))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	rec := f.record(t, "u1")
	assert.Equal(t, model.StatusPastDue, rec.Status)
	assert.True(t, rec.UpdatedAt.Equal(t2))
	assert.False(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_StaleEventHealsSplitWrite(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0.Add(time.Hour)))
	require.NoError(t, err)

	// simulate a crash that left the flag behind
	require.NoError(t, f.db.Model(&model.Account{}).Where("id = ?", "u1").Update("has_active_access", false).Error)

	res, err := f.sync.Apply(ctx, baseInput(model.StatusCanceled, t0))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.True(t, res.Flag.HasActiveAccess)
	assert.True(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_AccessDerivationForEveryStatus(t *testing.T) {
	for _, status := range model.AllStatuses {
		t.Run(string(status), func(t *testing.T) {
			ctx := context.Background()
			f := newSyncFixture(t)

			res, err := f.sync.Apply(ctx, baseInput(status, t0))
			require.NoError(t, err)

			want := status == model.StatusActive || status == model.StatusTrialing
			assert.Equal(t, want, res.Flag.HasActiveAccess)
			acct := f.account(t, "u1")
			require.NotNil(t, acct)
			assert.Equal(t, want, acct.HasActiveAccess)
			assert.Equal(t, status, acct.SubscriptionStatus)
		})
	}
}

func TestSyncService_DeletionPrecedence(t *testing.T) {
	deleted := func(at time.Time) *model.InboundEvent {
		return inboundEvent("evt_del", model.EventSubscriptionDeleted, at,
			subscriptionObject("sub_1", "u1", "cus_1", "active", "price_monthly", "prod_monthly"))
	}
	updated := func(at time.Time) *model.InboundEvent {
		return inboundEvent("evt_upd", model.EventSubscriptionUpdated, at,
			subscriptionObject("sub_1", "u1", "cus_1", "active", "price_monthly", "prod_monthly"))
	}

	orders := map[string][]func(f *syncFixture) *model.InboundEvent{
		"deleted first": {
			func(*syncFixture) *model.InboundEvent { return deleted(t0.Add(time.Hour)) },
			func(*syncFixture) *model.InboundEvent { return updated(t0) },
		},
		"stale update first": {
			func(*syncFixture) *model.InboundEvent { return updated(t0) },
			func(*syncFixture) *model.InboundEvent { return deleted(t0.Add(time.Hour)) },
		},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newSyncFixture(t)
			router := NewEventRouter(f.sync, zerolog.Nop())

			for _, build := range order {
				require.NoError(t, router.Route(ctx, build(f)))
			}

			rec := f.record(t, "u1")
			require.NotNil(t, rec)
			assert.Equal(t, model.StatusCanceled, rec.Status)
			assert.True(t, rec.CancelAtPeriodEnd)
			assert.False(t, f.account(t, "u1").HasActiveAccess)
		})
	}
}

func TestSyncService_DeletionIgnoresNewerUpdateOfSameSubscription(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0.Add(time.Hour)))
	require.NoError(t, err)

	del := baseInput(model.StatusCanceled, t0)
	del.Deletion = true
	res, err := f.sync.Apply(ctx, del)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	rec := f.record(t, "u1")
	assert.Equal(t, model.StatusCanceled, rec.Status)
	// the ordering key never moves backwards
	assert.True(t, rec.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestSyncService_EqualTimestampDoesNotReviveCanceled(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	del := baseInput(model.StatusCanceled, t0)
	del.Deletion = true
	_, err := f.sync.Apply(ctx, del)
	require.NoError(t, err)

	res, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.StatusCanceled, f.record(t, "u1").Status)
}

func TestSyncService_EqualTimestampDoesNotRevokeAccess(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	// updated (active) is delivered before created (incomplete); both carry the same second
	updated := inboundEvent("evt_updated", model.EventSubscriptionUpdated, t0,
		subscriptionObject("sub_1", "u1", "cus_1", "active", "price_monthly", "prod_monthly"))
	created := inboundEvent("evt_created", model.EventSubscriptionCreated, t0,
		subscriptionObject("sub_1", "u1", "cus_1", "incomplete", "price_monthly", "prod_monthly"))

	require.NoError(t, f.sync.HandleSubscriptionChanged(ctx, updated))
	require.NoError(t, f.sync.HandleSubscriptionChanged(ctx, created))

	rec := f.record(t, "u1")
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.Equal(t, "evt_updated", rec.LastEventID)
	assert.True(t, f.account(t, "u1").HasActiveAccess)

	// replaying the applied event stays idempotent
	require.NoError(t, f.sync.HandleSubscriptionChanged(ctx, updated))
	assert.Equal(t, model.StatusActive, f.record(t, "u1").Status)
}

func TestSyncService_EqualTimestampCanGrantAccess(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	created := baseInput(model.StatusIncomplete, t0)
	created.EventID = "evt_created"
	_, err := f.sync.Apply(ctx, created)
	require.NoError(t, err)

	updated := baseInput(model.StatusActive, t0)
	updated.EventID = "evt_updated"
	res, err := f.sync.Apply(ctx, updated)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_SupersededSubscriptionCannotRevokeAccess(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	current := baseInput(model.StatusActive, t0)
	current.SubscriptionID = "sub_new"
	_, err := f.sync.Apply(ctx, current)
	require.NoError(t, err)

	old := baseInput(model.StatusCanceled, t0.Add(time.Hour))
	old.SubscriptionID = "sub_old"
	old.Deletion = true
	res, err := f.sync.Apply(ctx, old)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "sub_new", f.record(t, "u1").ExternalSubscriptionID)
	assert.True(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_ApplyWithoutAccountIsUnresolved(t *testing.T) {
	f := newSyncFixture(t)
	in := baseInput(model.StatusActive, t0)
	in.AccountID = ""

	_, err := f.sync.Apply(context.Background(), in)
	assert.Equal(t, apperr.KindUnresolvedCorrelation, apperr.KindOf(err))
	assert.False(t, apperr.Retryable(err))
}

func TestSyncService_SubscriptionChangedResolvesTier(t *testing.T) {
	tests := []struct {
		product string
		want    model.Tier
	}{
		{"prod_monthly", model.TierMonthly},
		{"prod_annual", model.TierAnnual},
		{"prod_lifetime", model.TierLifetime},
		{"prod_unknown", model.TierMonthly},
	}

	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			ctx := context.Background()
			f := newSyncFixture(t)

			evt := inboundEvent("evt_1", model.EventSubscriptionCreated, t0,
				subscriptionObject("sub_1", "u1", "cus_1", "trialing", "price_"+tt.product, tt.product))
			require.NoError(t, f.sync.HandleSubscriptionChanged(ctx, evt))

			rec := f.record(t, "u1")
			require.NotNil(t, rec)
			assert.Equal(t, tt.want, rec.Tier)
			assert.Equal(t, model.StatusTrialing, rec.Status)
			assert.Equal(t, "cus_1", rec.ExternalCustomerID)
			require.NotNil(t, rec.CurrentPeriodEnd)
			assert.Equal(t, int64(1702592000), rec.CurrentPeriodEnd.Unix())
			assert.True(t, f.account(t, "u1").HasActiveAccess)
		})
	}
}

func TestSyncService_SubscriptionChangedTransientProductFailureIsRetryable(t *testing.T) {
	f := newSyncFixture(t)
	f.processor.productErr = apperr.New(apperr.KindUpstreamUnavailable, "fake", "down")

	evt := inboundEvent("evt_1", model.EventSubscriptionUpdated, t0,
		subscriptionObject("sub_1", "u1", "cus_1", "active", "price_1", "prod_monthly"))
	err := f.sync.HandleSubscriptionChanged(context.Background(), evt)
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Nil(t, f.record(t, "u1"))
}

func TestSyncService_CorrelatesByStoredCustomer(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0))
	require.NoError(t, err)

	// a new subscription for the same customer, without metadata
	evt := inboundEvent("evt_2", model.EventSubscriptionUpdated, t0.Add(time.Minute),
		subscriptionObject("sub_2", "", "cus_1", "active", "price_annual", "prod_annual"))
	require.NoError(t, f.sync.HandleSubscriptionChanged(ctx, evt))

	rec := f.record(t, "u1")
	assert.Equal(t, "sub_2", rec.ExternalSubscriptionID)
	assert.Equal(t, model.TierAnnual, rec.Tier)
}

func TestSyncService_UnresolvedCorrelationIsDropped(t *testing.T) {
	f := newSyncFixture(t)

	evt := inboundEvent("evt_1", model.EventSubscriptionUpdated, t0,
		subscriptionObject("sub_x", "", "cus_x", "active", "price_1", "prod_monthly"))
	err := f.sync.HandleSubscriptionChanged(context.Background(), evt)
	assert.Equal(t, apperr.KindUnresolvedCorrelation, apperr.KindOf(err))
}

func TestSyncService_CheckoutCompletedSubscriptionMode(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.processor.setSubscription(&model.SubscriptionSnapshot{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     model.StatusActive,
		PriceID:    "price_annual",
		ProductID:  "prod_annual",
	})

	evt := inboundEvent("evt_cs", model.EventCheckoutCompleted, t0,
		`{"id":"cs_1","object":"checkout.session","mode":"subscription","payment_status":"paid","client_reference_id":"u1","customer":"cus_1","subscription":"sub_1","metadata":{"account_id":"u1"}}`)
	require.NoError(t, f.sync.HandleCheckoutCompleted(ctx, evt))

	rec := f.record(t, "u1")
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.Equal(t, model.TierAnnual, rec.Tier)
	assert.Equal(t, "price_annual", rec.ExternalPriceID)

	flag := f.account(t, "u1")
	assert.True(t, flag.HasActiveAccess)
	assert.Equal(t, model.TierAnnual, flag.SubscriptionTier)
}

func TestSyncService_CheckoutCompletedUnpaidDonationIsIgnored(t *testing.T) {
	f := newSyncFixture(t)

	evt := inboundEvent("evt_cs", model.EventCheckoutCompleted, t0,
		`{"id":"cs_1","mode":"payment","payment_status":"unpaid","metadata":{"account_id":"u1"}}`)
	require.NoError(t, f.sync.HandleCheckoutCompleted(context.Background(), evt))
	assert.Nil(t, f.account(t, "u1"))
}

func TestSyncService_InvoicePaidRestoresActive(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusPastDue, t0))
	require.NoError(t, err)
	f.processor.setSubscription(&model.SubscriptionSnapshot{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     model.StatusPastDue,
		PriceID:    "price_monthly",
		ProductID:  "prod_monthly",
	})

	// newer API versions carry the subscription under parent
	evt := inboundEvent("evt_inv", model.EventInvoicePaid, t0.Add(time.Hour),
		`{"id":"in_1","customer":"cus_1","amount_paid":900,"parent":{"subscription_details":{"subscription":"sub_1","metadata":{"account_id":"u1"}}}}`)
	require.NoError(t, f.sync.HandleInvoicePaid(ctx, evt))

	assert.Equal(t, model.StatusActive, f.record(t, "u1").Status)
	assert.True(t, f.account(t, "u1").HasActiveAccess)
}

func TestSyncService_InvoicePaidSkipsAlreadyActive(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0))
	require.NoError(t, err)

	evt := inboundEvent("evt_inv", model.EventInvoicePaid, t0.Add(time.Hour),
		`{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`)
	require.NoError(t, f.sync.HandleInvoicePaid(ctx, evt))

	assert.Zero(t, f.processor.subCalls)
	assert.True(t, f.record(t, "u1").UpdatedAt.Equal(t0))
}

func TestSyncService_InvoicePaidWithoutSubscriptionIsDonation(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	evt := inboundEvent("evt_inv", model.EventInvoicePaid, t0,
		`{"id":"in_1","customer":"cus_9","amount_paid":2500,"metadata":{"account_id":"u9"}}`)
	require.NoError(t, f.sync.HandleInvoicePaid(ctx, evt))

	assert.Nil(t, f.record(t, "u9"))
	acct := f.account(t, "u9")
	require.NotNil(t, acct)
	assert.True(t, acct.HasDonated)
	assert.Equal(t, int64(2500), acct.LastDonationAmount)
	assert.False(t, acct.HasActiveAccess)
}

func TestSyncService_InvoicePaymentFailed(t *testing.T) {
	tests := []struct {
		name       string
		procStatus model.SubscriptionStatus
		want       model.SubscriptionStatus
	}{
		{"transient hiccup keeps active", model.StatusActive, model.StatusActive},
		{"past due is written", model.StatusPastDue, model.StatusPastDue},
		{"unpaid is written", model.StatusUnpaid, model.StatusUnpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newSyncFixture(t)

			_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0))
			require.NoError(t, err)
			f.processor.setSubscription(&model.SubscriptionSnapshot{
				ID:         "sub_1",
				CustomerID: "cus_1",
				Status:     tt.procStatus,
				PriceID:    "price_monthly",
				ProductID:  "prod_monthly",
				Metadata:   map[string]string{"account_id": "u1"},
			})

			evt := inboundEvent("evt_fail", model.EventInvoicePaymentFailed, t0.Add(time.Hour),
				`{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`)
			require.NoError(t, f.sync.HandleInvoicePaymentFailed(ctx, evt))

			assert.Equal(t, tt.want, f.record(t, "u1").Status)
			assert.Equal(t, tt.want.GrantsAccess(), f.account(t, "u1").HasActiveAccess)
		})
	}
}

func TestSyncService_RepairAll(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	_, err := f.sync.Apply(ctx, baseInput(model.StatusActive, t0))
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Account{}).Where("id = ?", "u1").Update("has_active_access", false).Error)
	// an account holding access without any record
	require.NoError(t, f.accounts.UpsertAccess(ctx, nil, model.AccountAccessFlag{AccountID: "u2", HasActiveAccess: true, Tier: model.TierMonthly}))

	n, err := f.sync.RepairAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, f.account(t, "u1").HasActiveAccess)
	assert.False(t, f.account(t, "u2").HasActiveAccess)
	assert.Equal(t, model.TierFree, f.account(t, "u2").SubscriptionTier)
}
