package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"donation-platform/internal/apperr"
	"donation-platform/internal/client"
	"donation-platform/internal/config"
	"donation-platform/internal/lock"
	"donation-platform/internal/model"
	"donation-platform/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testWebhookSecret = "whsec_test_secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, client.Migrate(db))
	return db
}

func testStripeConfig() *config.Stripe {
	return &config.Stripe{
		SecretKey:           "sk_test_123",
		WebhookSecret:       testWebhookSecret,
		Currency:            "usd",
		MinimumDonation:     100,
		DonationLabel:       "Donation",
		CheckoutTimeout:     time.Second,
		WebhookTolerance:    5 * time.Minute,
		WebhookMaxBodyBytes: 65536,
	}
}

// signHeader builds a Stripe-Signature header for payload.
func signHeader(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, eventType string, created time.Time, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","api_version":"2025-03-31.basil","type":%q,"created":%d,"livemode":false,"pending_webhooks":1,"data":{"object":%s}}`,
		id, eventType, created.Unix(), object,
	))
}

func inboundEvent(id string, typ model.EventType, created time.Time, object string) *model.InboundEvent {
	return &model.InboundEvent{
		ID:        id,
		Type:      typ,
		CreatedAt: created.UTC(),
		Object:    []byte(object),
	}
}

func subscriptionObject(id, account, customer, status, priceID, productID string) string {
	meta := "{}"
	if account != "" {
		meta = fmt.Sprintf(`{"account_id":%q}`, account)
	}
	return fmt.Sprintf(
		`{"id":%q,"object":"subscription","customer":%q,"status":%q,"start_date":1700000000,"cancel_at_period_end":false,"metadata":%s,"items":{"object":"list","data":[{"id":"si_1","current_period_end":1702592000,"price":{"id":%q,"product":%q}}]}}`,
		id, customer, status, meta, priceID, productID,
	)
}

type fakeProcessor struct {
	mu            sync.Mutex
	sessions      map[string]*model.CheckoutSession
	subscriptions map[string]*model.SubscriptionSnapshot
	products      map[string]*model.Product

	created     []model.CheckoutIntent
	createErr   error
	blockCreate bool
	subErr      error
	productErr  error
	subCalls    int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		sessions:      map[string]*model.CheckoutSession{},
		subscriptions: map[string]*model.SubscriptionSnapshot{},
		products: map[string]*model.Product{
			"prod_monthly":  {ID: "prod_monthly", Name: "Supporter Monthly"},
			"prod_annual":   {ID: "prod_annual", Name: "Acme Annual Plan"},
			"prod_lifetime": {ID: "prod_lifetime", Name: "Lifetime Supporter"},
		},
	}
}

var _ client.PaymentProcessor = (*fakeProcessor)(nil)

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, intent model.CheckoutIntent, idempotencyKey string) (*model.CheckoutSession, error) {
	if f.blockCreate {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, intent)
	id := fmt.Sprintf("cs_test_%d", len(f.created))
	return &model.CheckoutSession{ID: id, URL: "https://checkout.example/" + id, Mode: intent.Mode}, nil
}

func (f *fakeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.GetCheckoutSession", sessionID)
	}
	return sess, nil
}

func (f *fakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subErr != nil {
		return nil, f.subErr
	}
	snap, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.GetSubscription", subscriptionID)
	}
	cp := *snap
	return &cp, nil
}

func (f *fakeProcessor) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productErr != nil {
		return nil, f.productErr
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "fake.GetProduct", productID)
	}
	return p, nil
}

func (f *fakeProcessor) setSubscription(snap *model.SubscriptionSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[snap.ID] = snap
}

type syncFixture struct {
	db        *gorm.DB
	processor *fakeProcessor
	subs      repository.SubscriptionRepository
	accounts  repository.AccountRepository
	sync      SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db := newTestDB(t)
	f := &syncFixture{
		db:        db,
		processor: newFakeProcessor(),
		subs:      repository.NewSubscriptionRepository(db),
		accounts:  repository.NewAccountRepository(db),
	}
	f.sync = NewSyncService(db, f.processor, lock.NewMemoryLocker(), f.subs, f.accounts, zerolog.Nop())
	return f
}

func (f *syncFixture) record(t *testing.T, accountID string) *model.SubscriptionRecord {
	t.Helper()
	rec, err := f.subs.FindByAccountID(context.Background(), nil, accountID)
	require.NoError(t, err)
	return rec
}

func (f *syncFixture) account(t *testing.T, accountID string) *model.Account {
	t.Helper()
	acct, err := f.accounts.FindByID(context.Background(), accountID)
	require.NoError(t, err)
	return acct
}
